package liveness

import (
	"math"

	"github.com/your-org/faceattend/internal/embedding"
)

// Verifier decides whether three pose captures came from one live, moving
// person. It compares embeddings only: a subject swap lowers similarity below
// the floor, and a static photo shown at three angles tends to produce
// near-identical embeddings above the ceiling. It is not a pixel-level spoof
// classifier.
type Verifier struct {
	ConsistencyFloor   float64
	DuplicationCeiling float64
}

// Verdict is the outcome of a verification. Similarities holds
// (center,left), (center,right), (left,right).
type Verdict struct {
	Accepted     bool       `json:"accepted"`
	Confidence   float64    `json:"confidence"`
	Reason       Reason     `json:"reason,omitempty"`
	Similarities [3]float64 `json:"similarities"`
}

func (v Verifier) Verify(center, left, right []float32) Verdict {
	for _, e := range [][]float32{center, left, right} {
		if len(e) == 0 || len(e) != len(center) || embedding.Norm(e) == 0 {
			return Verdict{Reason: ReasonLowQuality}
		}
	}

	sims := [3]float64{
		embedding.Cosine(center, left),
		embedding.Cosine(center, right),
		embedding.Cosine(left, right),
	}
	verdict := Verdict{Similarities: sims}

	minSim, maxSim := sims[0], sims[0]
	for _, s := range sims[1:] {
		minSim = math.Min(minSim, s)
		maxSim = math.Max(maxSim, s)
	}

	if minSim <= v.ConsistencyFloor {
		verdict.Reason = ReasonInconsistentIdentity
		return verdict
	}
	if maxSim >= v.DuplicationCeiling {
		verdict.Reason = ReasonInsufficientMotion
		return verdict
	}

	verdict.Accepted = true
	verdict.Confidence = clamp01((minSim - v.ConsistencyFloor) / (v.DuplicationCeiling - v.ConsistencyFloor))
	return verdict
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
