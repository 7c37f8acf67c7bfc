package liveness

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceattend/internal/models"
)

// Capture is the accepted observation for one pose.
type Capture struct {
	Embedding  []float32
	Yaw        float64
	Quality    float64
	Frame      []byte
	CapturedAt time.Time
}

// Session is one three-pose enrollment attempt. All mutable fields are guarded
// by mu, which is held for the whole of a frame submission so that frames of
// one session are processed in order.
type Session struct {
	ID         uuid.UUID
	Camera     string
	IdentityID *uuid.UUID
	Profile    *models.Identity
	CreatedAt  time.Time
	ExpiresAt  time.Time

	// newIdentity is the id an unbound session enrolls under.
	newIdentity uuid.UUID

	mu                sync.Mutex
	state             State
	reason            Reason
	updatedAt         time.Time
	captures          map[Pose]Capture
	discards          int
	verdict           *Verdict
	completedIdentity *uuid.UUID

	// closedAt is the UnixNano time the session became terminal, zero while it
	// is open. It is read without mu by the manager's bookkeeping.
	closedAt atomic.Int64

	// byExpiry is set when the session ended by passing its deadline.
	byExpiry atomic.Bool
}

func (s *Session) open(now time.Time) bool {
	return s.closedAt.Load() == 0 && !now.After(s.ExpiresAt)
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID                uuid.UUID  `json:"id"`
	State             State      `json:"state"`
	Reason            Reason     `json:"reason,omitempty"`
	Camera            string     `json:"camera,omitempty"`
	IdentityID        *uuid.UUID `json:"identity_id,omitempty"`
	CompletedIdentity *uuid.UUID `json:"completed_identity,omitempty"`
	Captured          []Pose     `json:"captured"`
	Discards          int        `json:"discards"`
	Verdict           *Verdict   `json:"verdict,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// snapshot must be called with mu held.
func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:         s.ID,
		State:      s.state,
		Reason:     s.reason,
		Camera:     s.Camera,
		IdentityID: s.IdentityID,
		Captured:   []Pose{},
		Discards:   s.discards,
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		UpdatedAt:  s.updatedAt,
	}
	for _, p := range []Pose{PoseCenter, PoseLeft, PoseRight} {
		if _, ok := s.captures[p]; ok {
			snap.Captured = append(snap.Captured, p)
		}
	}
	if s.verdict != nil {
		v := *s.verdict
		snap.Verdict = &v
	}
	if s.completedIdentity != nil {
		id := *s.completedIdentity
		snap.CompletedIdentity = &id
	}
	return snap
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// apply moves the session along one edge of the state table.
func (s *Session) apply(ev event, now time.Time) error {
	next, err := transition(s.state, ev)
	if err != nil {
		return err
	}
	s.state = next
	s.updatedAt = now
	return nil
}
