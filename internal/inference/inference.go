// Package inference defines the contract between the engine and whatever model
// turns a camera frame into detected faces.
package inference

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoFace        = errors.New("no face detected")
	ErrMultipleFaces = errors.New("multiple faces in frame")
	ErrLowQuality    = errors.New("face quality below threshold")
	ErrInvalidImage  = errors.New("frame is not a decodable image")
)

// primaryAreaRatio is how close the runner-up face may come to the largest one
// before the frame is considered to have no single primary face.
const primaryAreaRatio = 0.8

// Frame is one encoded image (JPEG or PNG) from a camera or an upload.
type Frame struct {
	Data       []byte
	Camera     string
	CapturedAt time.Time
}

// Face is one detection with its head pose, quality and identity embedding.
// Yaw is in degrees; negative values mean the subject turned to their left.
type Face struct {
	BBox      [4]float32 `json:"bbox"` // x1, y1, x2, y2
	Yaw       float64    `json:"yaw"`
	Quality   float64    `json:"quality"`
	Embedding []float32  `json:"embedding"`
}

func (f Face) Area() float64 {
	w := float64(f.BBox[2] - f.BBox[0])
	h := float64(f.BBox[3] - f.BBox[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Gateway detects faces in a frame. Embeddings from one gateway all come from
// the model reported by ModelVersion and have length Dim.
type Gateway interface {
	Detect(ctx context.Context, frame Frame) ([]Face, error)
	ModelVersion() string
	Dim() int
}

// PrimaryFace picks the face the frame is about: the largest box, provided no
// other face is nearly as large, with quality at least minQuality.
func PrimaryFace(faces []Face, minQuality float64) (Face, error) {
	if len(faces) == 0 {
		return Face{}, ErrNoFace
	}

	best := 0
	for i := 1; i < len(faces); i++ {
		if faces[i].Area() > faces[best].Area() {
			best = i
		}
	}
	bestArea := faces[best].Area()
	for i, f := range faces {
		if i != best && bestArea > 0 && f.Area() >= primaryAreaRatio*bestArea {
			return Face{}, ErrMultipleFaces
		}
	}

	face := faces[best]
	if face.Quality < minQuality {
		return face, ErrLowQuality
	}
	return face, nil
}
