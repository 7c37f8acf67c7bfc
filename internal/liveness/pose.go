package liveness

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/your-org/faceattend/internal/inference"
)

var ErrInvalidPose = errors.New("invalid pose")

type Pose string

const (
	PoseCenter  Pose = "CENTER"
	PoseLeft    Pose = "LEFT"
	PoseRight   Pose = "RIGHT"
	PoseUnknown Pose = "UNKNOWN"
)

// ParsePose accepts any letter case. An empty string is not a pose.
func ParsePose(s string) (Pose, error) {
	switch p := Pose(strings.ToUpper(strings.TrimSpace(s))); p {
	case PoseCenter, PoseLeft, PoseRight:
		return p, nil
	default:
		return "", fmt.Errorf("%w %q", ErrInvalidPose, s)
	}
}

// Classifier maps a face to a pose. The yaw bands between CenterMaxYaw and
// SideMinYaw are left unclassified so that a capture needs a clear head turn.
type Classifier struct {
	CenterMaxYaw float64
	SideMinYaw   float64
	MinQuality   float64
}

func (c Classifier) Classify(yaw float64) Pose {
	switch {
	case math.Abs(yaw) <= c.CenterMaxYaw:
		return PoseCenter
	case yaw < -c.SideMinYaw:
		return PoseLeft
	case yaw > c.SideMinYaw:
		return PoseRight
	default:
		return PoseUnknown
	}
}

// Observation is the usable content of one frame.
type Observation struct {
	Pose Pose
	Face inference.Face
}

// Observe selects the primary face and classifies it. The returned reason is
// empty when the observation is usable.
func (c Classifier) Observe(faces []inference.Face) (Observation, Reason) {
	face, err := inference.PrimaryFace(faces, c.MinQuality)
	switch {
	case errors.Is(err, inference.ErrNoFace):
		return Observation{}, ReasonNoFace
	case errors.Is(err, inference.ErrMultipleFaces):
		return Observation{}, ReasonMultipleFaces
	case errors.Is(err, inference.ErrLowQuality):
		return Observation{Face: face}, ReasonLowQuality
	}
	if len(face.Embedding) == 0 {
		return Observation{Face: face}, ReasonLowQuality
	}
	return Observation{Pose: c.Classify(face.Yaw), Face: face}, ""
}
