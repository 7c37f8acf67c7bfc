package inference

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func box(x, y, size float32) [4]float32 {
	return [4]float32{x, y, x + size, y + size}
}

func TestPrimaryFaceNoFaces(t *testing.T) {
	_, err := PrimaryFace(nil, 0.5)
	require.ErrorIs(t, err, ErrNoFace)
}

func TestPrimaryFacePicksLargest(t *testing.T) {
	faces := []Face{
		{BBox: box(0, 0, 40), Quality: 0.9, Yaw: 30},
		{BBox: box(100, 100, 120), Quality: 0.9, Yaw: 1},
	}
	face, err := PrimaryFace(faces, 0.5)
	require.NoError(t, err)
	require.Equal(t, 1.0, face.Yaw)
}

func TestPrimaryFaceAmbiguousSizes(t *testing.T) {
	faces := []Face{
		{BBox: box(0, 0, 100), Quality: 0.9},
		{BBox: box(200, 0, 95), Quality: 0.9},
	}
	_, err := PrimaryFace(faces, 0.5)
	require.ErrorIs(t, err, ErrMultipleFaces)
}

func TestPrimaryFaceLowQuality(t *testing.T) {
	_, err := PrimaryFace([]Face{{BBox: box(0, 0, 80), Quality: 0.2}}, 0.5)
	require.ErrorIs(t, err, ErrLowQuality)
}
