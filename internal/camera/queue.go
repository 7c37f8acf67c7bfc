package camera

import (
	"context"
	"sync"

	"github.com/your-org/faceattend/internal/inference"
)

// frameQueue is a bounded FIFO that evicts the oldest frame when full, so a
// slow consumer always works on recent frames.
type frameQueue struct {
	mu     sync.Mutex
	items  []inference.Frame
	size   int
	signal chan struct{}
}

func newFrameQueue(size int) *frameQueue {
	if size < 1 {
		size = 1
	}
	return &frameQueue{size: size, signal: make(chan struct{}, 1)}
}

// Push adds f and reports whether an older frame was evicted.
func (q *frameQueue) Push(f inference.Frame) bool {
	q.mu.Lock()
	dropped := false
	if len(q.items) == q.size {
		q.items[0] = inference.Frame{}
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, f)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return dropped
}

func (q *frameQueue) Pop(ctx context.Context) (inference.Frame, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			f := q.items[0]
			q.items[0] = inference.Frame{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return f, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return inference.Frame{}, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *frameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
