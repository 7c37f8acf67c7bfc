// Package liveness runs three-pose enrollment sessions: the person looks at
// the camera, turns left, turns right, and the captured embeddings are checked
// for consistency and motion before the center embedding becomes their
// template.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/observability"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/internal/templates"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionClosed   = errors.New("session already finished")
	ErrCameraBusy      = errors.New("camera already has an active session")

	ErrIdentityNotFound = templates.ErrIdentityNotFound
)

// Enroller persists the template of a verified session.
type Enroller interface {
	Exists(ctx context.Context, identityID uuid.UUID) (bool, error)
	Enroll(ctx context.Context, e templates.Enrollment) (uuid.UUID, error)
}

type Manager struct {
	cfg        config.LivenessConfig
	write      storage.WritePolicy
	gateway    inference.Gateway
	enroller   Enroller
	classifier Classifier
	verifier   Verifier
	now        func() time.Time
	notify     func(Snapshot)

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	byCamera map[string]*Session
	// expired remembers purged sessions that ended by expiry, keyed to the
	// time they were purged, so late submissions still see ErrSessionExpired.
	expired map[uuid.UUID]time.Time
}

// expiredMemory is how long a purged expired session keeps answering
// ErrSessionExpired before it becomes unknown.
const expiredMemory = 24 * time.Hour

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithNotifier calls fn after every capture and on every terminal transition.
// fn runs with the session locked and must not call back into the Manager.
func WithNotifier(fn func(Snapshot)) Option {
	return func(m *Manager) { m.notify = fn }
}

func NewManager(cfg config.LivenessConfig, write storage.WritePolicy, gateway inference.Gateway, enroller Enroller, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		write:    write,
		gateway:  gateway,
		enroller: enroller,
		classifier: Classifier{
			CenterMaxYaw: cfg.CenterMaxYaw,
			SideMinYaw:   cfg.SideMinYaw,
			MinQuality:   cfg.MinQuality,
		},
		verifier: Verifier{
			ConsistencyFloor:   cfg.ConsistencyFloor,
			DuplicationCeiling: cfg.DuplicationCeiling,
		},
		now:      time.Now,
		notify:   func(Snapshot) {},
		sessions: make(map[uuid.UUID]*Session),
		byCamera: make(map[string]*Session),
		expired:  make(map[uuid.UUID]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type CreateOptions struct {
	// IdentityID re-enrolls an existing identity.
	IdentityID *uuid.UUID
	// Profile describes the identity to create when IdentityID is nil.
	Profile *models.Identity
	// Camera binds the session to a camera so its frames are routed here.
	Camera string
}

func (m *Manager) CreateSession(ctx context.Context, opts CreateOptions) (Snapshot, error) {
	if opts.IdentityID != nil {
		ok, err := m.enroller.Exists(ctx, *opts.IdentityID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("check identity: %w", err)
		}
		if !ok {
			return Snapshot{}, ErrIdentityNotFound
		}
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(now)

	if opts.Camera != "" {
		if bound, ok := m.byCamera[opts.Camera]; ok && bound.open(now) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrCameraBusy, opts.Camera)
		}
	}

	s := &Session{
		ID:          uuid.New(),
		Camera:      opts.Camera,
		IdentityID:  opts.IdentityID,
		Profile:     opts.Profile,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.SessionTTL),
		newIdentity: uuid.New(),
		state:       StateInitiated,
		updatedAt:   now,
		captures:    make(map[Pose]Capture, 3),
	}
	if err := s.apply(eventStart, now); err != nil {
		return Snapshot{}, err
	}

	m.sessions[s.ID] = s
	if s.Camera != "" {
		m.byCamera[s.Camera] = s
	}
	observability.ActiveSessions.Inc()
	slog.Info("liveness session created", "session_id", s.ID, "camera", s.Camera)

	return s.snapshot(), nil
}

func (m *Manager) lookup(id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(m.now())

	s, ok := m.sessions[id]
	if !ok {
		if _, gone := m.expired[id]; gone {
			return nil, ErrSessionExpired
		}
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetSession returns the current view of a session, expiring it first if its
// deadline has passed.
func (m *Manager) GetSession(id uuid.UUID) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m.expireIfDue(s, m.now())
	return s.snapshot(), nil
}

// BoundSession returns the open session bound to camera, if any.
func (m *Manager) BoundSession(camera string) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byCamera[camera]
	if !ok || !s.open(m.now()) {
		return uuid.Nil, false
	}
	return s.ID, true
}

// Abandon fails an open session at the caller's request.
func (m *Manager) Abandon(id uuid.UUID) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := m.now()
	if m.expireIfDue(s, now) {
		return s.snapshot(), ErrSessionExpired
	}
	if s.state.Terminal() {
		return s.snapshot(), ErrSessionClosed
	}
	m.finish(s, eventFail, ReasonAbandoned, now)
	return s.snapshot(), nil
}

// Result describes what happened to one submitted frame.
type Result struct {
	Session  Snapshot `json:"session"`
	Accepted bool     `json:"accepted"`
	Pose     Pose     `json:"pose,omitempty"`
	Reason   Reason   `json:"reason,omitempty"`
	Guidance string   `json:"guidance"`
}

// SubmitFrame feeds one frame to a session. hint, when set, is the pose the
// client asked the person to make; a frame classified otherwise is refused.
//
// Refused frames are not errors: the result carries the reason and the
// session state is unchanged unless the discard limit is exceeded. Errors are
// returned for unknown, expired or finished sessions and for a cancelled ctx.
func (m *Manager) SubmitFrame(ctx context.Context, id uuid.UUID, hint *Pose, frame inference.Frame) (Result, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.expireIfDue(s, m.now()) || s.state == StateExpired {
		return m.result(s, false, "", ReasonExpired), ErrSessionExpired
	}
	if s.state.Terminal() {
		return m.result(s, false, "", s.reason), ErrSessionClosed
	}

	start := time.Now()
	faces, err := m.gateway.Detect(ctx, frame)
	observability.InferenceDuration.WithLabelValues("liveness").Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return m.result(s, false, "", ""), fmt.Errorf("detect faces: %w", ctx.Err())
		}
		slog.Warn("liveness inference failed", "session_id", s.ID, "error", err)
		return m.discard(s, "", ReasonInferenceError), nil
	}

	obs, reason := m.classifier.Observe(faces)
	if reason != "" {
		return m.discard(s, obs.Pose, reason), nil
	}
	if hint != nil && *hint != obs.Pose {
		return m.discard(s, obs.Pose, ReasonPoseMismatch), nil
	}
	expected := s.state.ExpectedPose()
	if obs.Pose != expected {
		return m.discard(s, obs.Pose, ReasonPoseMismatch), nil
	}

	now := m.now()
	s.captures[obs.Pose] = Capture{
		Embedding:  obs.Face.Embedding,
		Yaw:        obs.Face.Yaw,
		Quality:    obs.Face.Quality,
		Frame:      frame.Data,
		CapturedAt: now,
	}
	if err := s.apply(eventCaptured, now); err != nil {
		return Result{}, err
	}
	observability.SessionFrames.WithLabelValues("accepted").Inc()
	slog.Debug("liveness pose captured", "session_id", s.ID, "pose", obs.Pose, "yaw", obs.Face.Yaw)

	if s.state == StateVerifying {
		m.verify(ctx, s)
	} else {
		m.notify(s.snapshot())
	}
	return m.result(s, true, obs.Pose, s.reason), nil
}

func (m *Manager) result(s *Session, accepted bool, pose Pose, reason Reason) Result {
	return Result{
		Session:  s.snapshot(),
		Accepted: accepted,
		Pose:     pose,
		Reason:   reason,
		Guidance: Guidance(s.state, reason),
	}
}

// discard counts a refused frame and fails the session once the limit is
// exceeded.
func (m *Manager) discard(s *Session, pose Pose, reason Reason) Result {
	s.discards++
	s.updatedAt = m.now()
	observability.SessionFrames.WithLabelValues(string(reason)).Inc()

	if m.cfg.MaxDiscards > 0 && s.discards > m.cfg.MaxDiscards {
		m.finish(s, eventFail, ReasonTooManyDiscards, s.updatedAt)
		return m.result(s, false, pose, ReasonTooManyDiscards)
	}
	return m.result(s, false, pose, reason)
}

// verify runs with the session in VERIFYING and leaves it terminal.
func (m *Manager) verify(ctx context.Context, s *Session) {
	center, left, right := s.captures[PoseCenter], s.captures[PoseLeft], s.captures[PoseRight]
	verdict := m.verifier.Verify(center.Embedding, left.Embedding, right.Embedding)
	s.verdict = &verdict

	if !verdict.Accepted {
		slog.Info("liveness verification rejected", "session_id", s.ID, "reason", verdict.Reason,
			"similarities", verdict.Similarities)
		m.finish(s, eventFail, verdict.Reason, m.now())
		return
	}

	identityID, err := m.persist(ctx, templates.Enrollment{
		SessionID:     s.ID,
		IdentityID:    s.IdentityID,
		Profile:       s.Profile,
		NewIdentityID: s.newIdentity,
		Embedding:     center.Embedding,
		ModelVersion:  m.gateway.ModelVersion(),
		Quality:       center.Quality,
		LivenessScore: verdict.Confidence,
		Photo:         center.Frame,
	})
	if err != nil {
		slog.Error("persist template failed", "session_id", s.ID, "error", err)
		m.finish(s, eventFail, ReasonPersistenceFailed, m.now())
		return
	}

	s.completedIdentity = &identityID
	m.finish(s, eventAccepted, "", m.now())
}

// persist writes the template under the write policy. Cancellation of the
// request does not abort it.
func (m *Manager) persist(ctx context.Context, e templates.Enrollment) (uuid.UUID, error) {
	var id uuid.UUID
	err := m.write.Do(ctx, "enroll template", permanent, func(ctx context.Context) error {
		var err error
		id, err = m.enroller.Enroll(ctx, e)
		return err
	})
	return id, err
}

// permanent errors fail the same way on every attempt.
func permanent(err error) bool {
	return errors.Is(err, templates.ErrModelMismatch) ||
		errors.Is(err, templates.ErrDimensionMismatch) ||
		errors.Is(err, templates.ErrIdentityNotFound) ||
		errors.Is(err, storage.ErrConflict)
}

// expireIfDue moves an open session past its deadline to EXPIRED.
func (m *Manager) expireIfDue(s *Session, now time.Time) bool {
	if s.state.Terminal() || !now.After(s.ExpiresAt) {
		return false
	}
	m.finish(s, eventExpire, ReasonExpired, now)
	return true
}

func (m *Manager) finish(s *Session, ev event, reason Reason, now time.Time) {
	if err := s.apply(ev, now); err != nil {
		slog.Error("liveness transition refused", "session_id", s.ID, "error", err)
		return
	}
	s.reason = reason
	if s.state == StateExpired {
		s.byExpiry.Store(true)
	}
	if s.closedAt.CompareAndSwap(0, now.UnixNano()) {
		observability.ActiveSessions.Dec()
	}
	observability.SessionsFinished.WithLabelValues(string(s.state), string(reason)).Inc()
	slog.Info("liveness session finished", "session_id", s.ID, "state", s.state, "reason", reason, "discards", s.discards)
	m.notify(s.snapshot())
}

// purgeLocked forgets sessions that finished, or expired untouched, more than
// the retention period ago. m.mu must be held.
func (m *Manager) purgeLocked(now time.Time) {
	for id, s := range m.sessions {
		closedAt := s.closedAt.Load()
		var end time.Time
		if closedAt != 0 {
			end = time.Unix(0, closedAt)
		} else {
			end = s.ExpiresAt
		}
		if !now.After(end) || now.Sub(end) < m.cfg.SessionRetention {
			continue
		}
		// Open past its deadline means it expired without being touched.
		if s.closedAt.CompareAndSwap(0, now.UnixNano()) {
			observability.ActiveSessions.Dec()
			m.expired[id] = now
		} else if s.byExpiry.Load() {
			m.expired[id] = now
		}
		delete(m.sessions, id)
		if s.Camera != "" && m.byCamera[s.Camera] == s {
			delete(m.byCamera, s.Camera)
		}
	}
	for id, at := range m.expired {
		if now.Sub(at) >= expiredMemory {
			delete(m.expired, id)
		}
	}
}
