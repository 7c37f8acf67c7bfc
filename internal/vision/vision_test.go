package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/your-org/faceattend/internal/inference"
)

// emptyOutputs builds zeroed detector outputs for a square input of size n.
func emptyOutputs(n int) [][]float32 {
	out := make([][]float32, 3*len(strides))
	for si, s := range strides {
		anchors := (n / s) * (n / s) * anchorsPerStride
		out[si] = make([]float32, anchors)
		out[si+3] = make([]float32, anchors*4)
		out[si+6] = make([]float32, anchors*10)
	}
	return out
}

func TestDecodeDetectionsScalesToSource(t *testing.T) {
	out := emptyOutputs(64)
	// stride 8, cell (cx=2, cy=1), first anchor
	idx := (1*8 + 2) * anchorsPerStride
	out[0][idx] = 0.9
	copy(out[3][idx*4:], []float32{1, 1, 1, 1})
	out[0][idx+1] = 0.3 // below threshold

	dets := decodeDetections(out, 64, 64, 128, 128, 0.5)
	require.Len(t, dets, 1)

	d := dets[0]
	require.InDelta(t, 0.9, d.Confidence, 1e-6)
	require.Equal(t, [4]float32{16, 0, 48, 32}, d.BBox)
	require.Equal(t, [2]float32{32, 16}, d.Landmarks[2])
}

func TestDecodeDetectionsClampsToImage(t *testing.T) {
	out := emptyOutputs(64)
	out[0][0] = 0.8
	copy(out[3][0:], []float32{5, 5, 2, 2})

	dets := decodeDetections(out, 64, 64, 64, 64, 0.5)
	require.Len(t, dets, 1)
	require.Equal(t, float32(0), dets[0].BBox[0])
	require.Equal(t, float32(0), dets[0].BBox[1])
}

func TestNMSKeepsHighestConfidence(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.6},
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.9},
		{BBox: [4]float32{50, 50, 60, 60}, Confidence: 0.7},
	}
	kept := nms(dets, nmsThreshold)
	require.Len(t, kept, 2)
	require.InDelta(t, 0.9, kept[0].Confidence, 1e-6)
	require.InDelta(t, 0.7, kept[1].Confidence, 1e-6)
}

func TestIOU(t *testing.T) {
	require.InDelta(t, 1.0, iou([4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}), 1e-6)
	require.Zero(t, iou([4]float32{0, 0, 10, 10}, [4]float32{20, 20, 30, 30}))
	require.InDelta(t, 50.0/150.0, iou([4]float32{0, 0, 10, 10}, [4]float32{5, 0, 15, 10}), 1e-6)
}

func landmarks(noseX float32) [5][2]float32 {
	return [5][2]float32{{40, 50}, {60, 50}, {noseX, 60}, {42, 70}, {58, 70}}
}

func TestEstimateYaw(t *testing.T) {
	require.InDelta(t, 0, estimateYaw(landmarks(50)), 1e-9)

	// Nose toward image right: the subject turned to their left.
	require.InDelta(t, -30, estimateYaw(landmarks(55)), 1e-6)
	require.InDelta(t, 30, estimateYaw(landmarks(45)), 1e-6)

	// Beyond the eye line saturates at 90 degrees.
	require.InDelta(t, -90, estimateYaw(landmarks(80)), 1e-6)

	var degenerate [5][2]float32
	require.Zero(t, estimateYaw(degenerate))
}

func TestToFacesOrdersAndMirrors(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.95, Landmarks: landmarks(50)},
		{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.8, Landmarks: landmarks(55)},
	}

	faces := toFaces(dets, false)
	require.Len(t, faces, 2)
	require.InDelta(t, 0.8, faces[0].Quality, 1e-6)
	require.InDelta(t, -30, faces[0].Yaw, 1e-6)

	mirrored := toFaces(dets, true)
	require.InDelta(t, 30, mirrored[0].Yaw, 1e-6)
}

func TestDecodeImage(t *testing.T) {
	_, err := decodeImage(nil)
	require.ErrorIs(t, err, inference.ErrInvalidImage)

	_, err = decodeImage([]byte("definitely not an image"))
	require.ErrorIs(t, err, inference.ErrInvalidImage)

	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	got, err := decodeImage(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 4, got.Bounds().Dx())
}

func TestCropFacePadsWithinBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	img.Set(20, 20, color.RGBA{R: 255, A: 255})

	crop := cropFace(img, [4]float32{20, 20, 70, 70})
	require.NotNil(t, crop)
	require.Equal(t, 60, crop.Bounds().Dx())
	r, _, _, _ := crop.At(5, 5).RGBA()
	require.Equal(t, uint32(0xffff), r)

	require.Nil(t, cropFace(img, [4]float32{200, 200, 300, 300}))
}

func TestImageToFloat32CHW(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 127, A: 255})
		}
	}
	data := preprocessForEmbedding(img, 2, 2)
	require.Len(t, data, 12)
	require.InDelta(t, 1.0, data[0], 1e-6)
	require.InDelta(t, -1.0, data[4], 1e-6)
	require.InDelta(t, -0.5/127.5, data[8], 1e-6)
}
