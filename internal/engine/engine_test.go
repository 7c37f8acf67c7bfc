package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/internal/inference/inferencetest"
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/recognition"
	"github.com/your-org/faceattend/internal/storage"
	"github.com/your-org/faceattend/internal/templates"
	"github.com/your-org/faceattend/pkg/dto"
)

const dim = 4

type recordingPublisher struct {
	mu     sync.Mutex
	events []*dto.WSEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, _ string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if evt, ok := data.(*dto.WSEvent); ok {
		p.events = append(p.events, evt)
	}
	return nil
}

type fixture struct {
	db        *storage.SQLiteStore
	store     *templates.Store
	matcher   *recognition.Matcher
	gateway   *inferencetest.Gateway
	publisher *recordingPublisher
	rec       *Recognizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewSQLiteStore(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	f := &fixture{
		db:        db,
		store:     templates.NewStore(db, inferencetest.DefaultVersion, dim),
		gateway:   inferencetest.NewGateway(dim),
		publisher: &recordingPublisher{},
	}
	f.matcher = recognition.NewMatcher(f.store, inferencetest.DefaultVersion, config.RecognitionConfig{Threshold: 0.7, TieEpsilon: 1e-6})
	f.store.Subscribe(f.matcher.OnTemplateChange)

	ledger, err := attendance.NewLedger(db, config.AttendanceConfig{Timezone: "UTC"}, storage.WritePolicy{Timeout: time.Second})
	require.NoError(t, err)
	f.rec = NewRecognizer(f.gateway, f.matcher, ledger, 0.5, WithPublisher(f.publisher), WithDetectionLog(db))
	return f
}

func (f *fixture) enroll(t *testing.T, name string, emb []float32) models.Identity {
	t.Helper()
	ident := models.Identity{Name: name}
	require.NoError(t, f.store.CreateIdentity(context.Background(), &ident))
	require.NoError(t, f.store.Put(context.Background(), &models.Template{IdentityID: ident.ID, Embedding: emb, ModelVersion: inferencetest.DefaultVersion}, nil))
	return ident
}

func frameAt(emb []float32, at time.Time) inference.Frame {
	fr := inferencetest.Frame(inferencetest.FaceAt(0, emb))
	fr.CapturedAt = at
	return fr
}

func TestRecognizeMarksAttendanceOncePerDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.enroll(t, "Alice", inferencetest.Basis(dim, 0))
	morning := time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)

	rec, err := f.rec.RecognizeFrame(ctx, "gate", frameAt(inferencetest.Toward(dim, 0, 1, 0.95), morning))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeMatched, rec.Outcome)
	require.Equal(t, alice.ID, *rec.IdentityID)
	require.InDelta(t, 0.95, rec.Confidence, 1e-6)
	require.True(t, rec.AttendanceMarked)
	require.Equal(t, "2024-09-02", rec.Event.Date)

	rec, err = f.rec.RecognizeFrame(ctx, "hall", frameAt(inferencetest.Basis(dim, 0), morning.Add(2*time.Hour)))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeDuplicate, rec.Outcome)
	require.False(t, rec.AttendanceMarked)
	require.Equal(t, "gate", rec.Event.Camera)

	events, total, err := f.db.ListAttendance(ctx, storage.AttendanceFilter{IdentityID: &alice.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.InDelta(t, 0.95, events[0].Confidence, 1e-6)

	require.Len(t, f.publisher.events, 1)
	require.Equal(t, dto.WSAttendanceMarked, f.publisher.events[0].Type)
	require.Equal(t, alice.ID, f.publisher.events[0].Attendance.IdentityID)
}

func TestRecognizeUnknownAndUnusableFrames(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enroll(t, "Bob", inferencetest.Basis(dim, 0))

	rec, err := f.rec.RecognizeFrame(ctx, "gate", frameAt(inferencetest.Basis(dim, 3), time.Now()))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeUnknown, rec.Outcome)
	require.Nil(t, rec.IdentityID)
	require.False(t, rec.AttendanceMarked)

	rec, err = f.rec.RecognizeFrame(ctx, "gate", inferencetest.Frame())
	require.NoError(t, err)
	require.Equal(t, models.OutcomeNoFace, rec.Outcome)

	face := inferencetest.FaceAt(0, inferencetest.Basis(dim, 0))
	rec, err = f.rec.RecognizeFrame(ctx, "gate", inferencetest.Frame(face, face))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeMultipleFaces, rec.Outcome)
	require.Equal(t, 2, rec.FacesDetected)

	n, err := f.db.CountAttendance(ctx, time.Now().UTC().Format(models.DateLayout))
	require.NoError(t, err)
	require.Zero(t, n)

	logs, total, err := f.db.ListDetectionLogs(ctx, storage.DetectionFilter{Camera: "gate"})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, logs, 3)
}

func TestRecognizeSeesNewEnrollmentImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.rec.RecognizeFrame(ctx, "gate", frameAt(inferencetest.Basis(dim, 2), time.Now()))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeUnknown, rec.Outcome)

	carol := f.enroll(t, "Carol", inferencetest.Basis(dim, 2))

	rec, err = f.rec.RecognizeFrame(ctx, "gate", frameAt(inferencetest.Basis(dim, 2), time.Now()))
	require.NoError(t, err)
	require.Equal(t, models.OutcomeMatched, rec.Outcome)
	require.Equal(t, carol.ID, *rec.IdentityID)
}

func TestRecognizeInferenceError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.SetErr(errors.New("model not loaded"))

	rec, err := f.rec.RecognizeFrame(ctx, "gate", inferencetest.Frame())
	require.Error(t, err)
	require.Equal(t, models.OutcomeError, rec.Outcome)

	logs, _, err := f.db.ListDetectionLogs(ctx, storage.DetectionFilter{Outcome: string(models.OutcomeError)})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Contains(t, logs[0].ErrorMessage, "model not loaded")
}

func TestDispatcherRoutesBoundCameraToSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dave := f.enroll(t, "Dave", inferencetest.Basis(dim, 0))

	mgr := liveness.NewManager(config.LivenessConfig{
		SessionTTL:         2 * time.Minute,
		SessionRetention:   10 * time.Minute,
		MaxDiscards:        30,
		CenterMaxYaw:       5,
		SideMinYaw:         15,
		MinQuality:         0.6,
		ConsistencyFloor:   0.5,
		DuplicationCeiling: 0.995,
	}, storage.WritePolicy{Timeout: time.Second, Retries: 1, Backoff: time.Millisecond}, f.gateway, f.store)
	d := NewDispatcher(mgr, f.rec)

	snap, err := mgr.CreateSession(ctx, liveness.CreateOptions{Camera: "kiosk"})
	require.NoError(t, err)

	// Dave walking past the kiosk while the session is open is not recognized.
	fr := frameAt(inferencetest.Basis(dim, 0), time.Now())
	fr.Camera = "kiosk"
	require.NoError(t, d.HandleFrame(ctx, fr))

	got, err := mgr.GetSession(snap.ID)
	require.NoError(t, err)
	require.Equal(t, liveness.StateAwaitingLeft, got.State)
	_, total, err := f.db.ListAttendance(ctx, storage.AttendanceFilter{IdentityID: &dave.ID})
	require.NoError(t, err)
	require.Zero(t, total)

	// Other cameras keep recognizing.
	fr.Camera = "gate"
	require.NoError(t, d.HandleFrame(ctx, fr))
	_, total, err = f.db.ListAttendance(ctx, storage.AttendanceFilter{IdentityID: &dave.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	_, err = mgr.Abandon(snap.ID)
	require.NoError(t, err)
	fr.Camera = "kiosk"
	require.NoError(t, d.HandleFrame(ctx, fr))
	logs, _, err := f.db.ListDetectionLogs(ctx, storage.DetectionFilter{Camera: "kiosk"})
	require.NoError(t, err)
	require.Len(t, logs, 1, "frames are recognized again once the session ends")
}
