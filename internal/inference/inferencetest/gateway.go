// Package inferencetest provides a deterministic inference.Gateway for tests.
// A frame's Data is the JSON encoding of the faces the gateway should return.
package inferencetest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/your-org/faceattend/internal/inference"
)

const DefaultVersion = "test-model"

type Gateway struct {
	Version   string
	Dimension int
	// Err, when set, is returned by every Detect call.
	Err error
	// Delay blocks each Detect call, honouring context cancellation.
	Delay time.Duration

	mu    sync.Mutex
	calls int
}

func NewGateway(dim int) *Gateway {
	return &Gateway{Version: DefaultVersion, Dimension: dim}
}

func (g *Gateway) Detect(ctx context.Context, frame inference.Frame) ([]inference.Face, error) {
	g.mu.Lock()
	g.calls++
	delay, injected := g.Delay, g.Err
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if injected != nil {
		return nil, injected
	}

	var faces []inference.Face
	if len(frame.Data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(frame.Data, &faces); err != nil {
		return nil, fmt.Errorf("decode test frame: %w", err)
	}
	return faces, nil
}

func (g *Gateway) ModelVersion() string { return g.Version }

func (g *Gateway) Dim() int { return g.Dimension }

// SetErr changes the injected error between calls.
func (g *Gateway) SetErr(err error) {
	g.mu.Lock()
	g.Err = err
	g.mu.Unlock()
}

func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Frame encodes faces into frame data understood by Gateway.
func Frame(faces ...inference.Face) inference.Frame {
	data, err := json.Marshal(faces)
	if err != nil {
		panic(err)
	}
	return inference.Frame{Data: data, CapturedAt: time.Now()}
}

// FaceAt is a single well-lit face with the given yaw and embedding.
func FaceAt(yaw float64, emb []float32) inference.Face {
	return inference.Face{
		BBox:      [4]float32{100, 100, 300, 300},
		Yaw:       yaw,
		Quality:   0.95,
		Embedding: emb,
	}
}

// Basis returns the i-th unit vector of length dim.
func Basis(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

// Toward returns a unit vector whose cosine similarity to Basis(dim, from) is
// sim, built by leaning Basis(dim, from) toward Basis(dim, to).
func Toward(dim, from, to int, sim float64) []float32 {
	v := make([]float32, dim)
	v[from] = float32(sim)
	v[to] = float32(math.Sqrt(1 - sim*sim))
	return v
}
