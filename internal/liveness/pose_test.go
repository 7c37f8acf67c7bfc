package liveness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/internal/inference/inferencetest"
)

var testClassifier = Classifier{CenterMaxYaw: 5, SideMinYaw: 15, MinQuality: 0.6}

func TestClassify(t *testing.T) {
	cases := []struct {
		yaw  float64
		want Pose
	}{
		{0, PoseCenter},
		{5, PoseCenter},
		{-5, PoseCenter},
		{5.1, PoseUnknown},
		{-10, PoseUnknown},
		{15, PoseUnknown},
		{-15, PoseUnknown},
		{-15.1, PoseLeft},
		{-40, PoseLeft},
		{15.1, PoseRight},
		{60, PoseRight},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, testClassifier.Classify(tc.yaw), "yaw %v", tc.yaw)
	}
}

func TestObserve(t *testing.T) {
	emb := inferencetest.Basis(4, 0)

	obs, reason := testClassifier.Observe([]inference.Face{inferencetest.FaceAt(-20, emb)})
	require.Empty(t, reason)
	require.Equal(t, PoseLeft, obs.Pose)

	_, reason = testClassifier.Observe(nil)
	require.Equal(t, ReasonNoFace, reason)

	blurry := inferencetest.FaceAt(0, emb)
	blurry.Quality = 0.3
	_, reason = testClassifier.Observe([]inference.Face{blurry})
	require.Equal(t, ReasonLowQuality, reason)

	_, reason = testClassifier.Observe([]inference.Face{inferencetest.FaceAt(0, emb), inferencetest.FaceAt(0, emb)})
	require.Equal(t, ReasonMultipleFaces, reason)

	_, reason = testClassifier.Observe([]inference.Face{inferencetest.FaceAt(0, nil)})
	require.Equal(t, ReasonLowQuality, reason)
}

func TestParsePose(t *testing.T) {
	p, err := ParsePose("left")
	require.NoError(t, err)
	require.Equal(t, PoseLeft, p)

	_, err = ParsePose("UNKNOWN")
	require.ErrorIs(t, err, ErrInvalidPose)
	_, err = ParsePose("")
	require.Error(t, err)
}
