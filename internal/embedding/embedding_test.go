package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	a := []float32{1, 0, 0}
	require.InDelta(t, 1.0, Cosine(a, a), 1e-9)
	require.InDelta(t, 0.0, Cosine(a, []float32{0, 1, 0}), 1e-9)
	require.InDelta(t, -1.0, Cosine(a, []float32{-2, 0, 0}), 1e-9)
	require.InDelta(t, math.Sqrt2/2, Cosine(a, []float32{1, 1, 0}), 1e-9)
}

func TestCosineDegenerateInputs(t *testing.T) {
	require.Zero(t, Cosine(nil, nil))
	require.Zero(t, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
	require.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
}

func TestNormalizeLeavesInputUntouched(t *testing.T) {
	in := []float32{3, 4}
	out := Normalize(in)
	require.Equal(t, []float32{3, 4}, in)
	require.InDelta(t, 1.0, Norm(out), 1e-6)
	require.InDelta(t, 0.6, out[0], 1e-6)
}

func TestMarshalRoundTrip(t *testing.T) {
	v := []float32{0.25, -1.5, 3.125}
	got, err := Unmarshal(Marshal(v))
	require.NoError(t, err)
	require.Equal(t, v, got)

	_, err = Unmarshal([]byte{1, 2, 3})
	require.Error(t, err)
}
