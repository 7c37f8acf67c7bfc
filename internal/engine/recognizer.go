// Package engine turns camera frames into attendance: each frame goes to the
// liveness session bound to its camera, or through recognition otherwise.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/observability"
	"github.com/your-org/faceattend/internal/recognition"
	"github.com/your-org/faceattend/pkg/dto"
)

// Publisher delivers live events to subscribers of a camera.
type Publisher interface {
	PublishEvent(ctx context.Context, camera string, data any) error
}

type DetectionLogger interface {
	AppendDetectionLog(ctx context.Context, l *models.DetectionLog) error
}

type Recognizer struct {
	gateway    inference.Gateway
	matcher    *recognition.Matcher
	ledger     *attendance.Ledger
	logs       DetectionLogger
	publisher  Publisher
	minQuality float64
	now        func() time.Time
}

type RecognizerOption func(*Recognizer)

func WithPublisher(p Publisher) RecognizerOption {
	return func(r *Recognizer) { r.publisher = p }
}

func WithDetectionLog(l DetectionLogger) RecognizerOption {
	return func(r *Recognizer) { r.logs = l }
}

func NewRecognizer(gateway inference.Gateway, matcher *recognition.Matcher, ledger *attendance.Ledger, minQuality float64, opts ...RecognizerOption) *Recognizer {
	r := &Recognizer{
		gateway:    gateway,
		matcher:    matcher,
		ledger:     ledger,
		minQuality: minQuality,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recognition is the outcome of one recognize_frame call.
type Recognition struct {
	Camera           string
	Outcome          models.DetectionOutcome
	IdentityID       *uuid.UUID
	Confidence       float64
	AttendanceMarked bool
	Event            *models.AttendanceEvent
	FacesDetected    int
}

// RecognizeFrame identifies the primary face of frame and marks attendance
// for it. Frames without a usable face or without a confident match are not
// errors; their outcome says why.
func (r *Recognizer) RecognizeFrame(ctx context.Context, camera string, frame inference.Frame) (Recognition, error) {
	start := time.Now()
	rec := Recognition{Camera: camera}

	rec, err := r.recognize(ctx, rec, frame)
	if err != nil {
		rec.Outcome = models.OutcomeError
	}
	observability.Recognitions.WithLabelValues(string(rec.Outcome)).Inc()
	r.record(ctx, rec, time.Since(start), err)
	return rec, err
}

func (r *Recognizer) recognize(ctx context.Context, rec Recognition, frame inference.Frame) (Recognition, error) {
	detectStart := time.Now()
	faces, err := r.gateway.Detect(ctx, frame)
	observability.InferenceDuration.WithLabelValues("recognition").Observe(time.Since(detectStart).Seconds())
	if err != nil {
		return rec, fmt.Errorf("detect faces: %w", err)
	}
	rec.FacesDetected = len(faces)
	observability.FacesDetected.WithLabelValues(rec.Camera).Add(float64(len(faces)))

	face, err := inference.PrimaryFace(faces, r.minQuality)
	switch {
	case errors.Is(err, inference.ErrNoFace):
		rec.Outcome = models.OutcomeNoFace
		return rec, nil
	case errors.Is(err, inference.ErrMultipleFaces):
		rec.Outcome = models.OutcomeMultipleFaces
		return rec, nil
	case errors.Is(err, inference.ErrLowQuality):
		rec.Outcome = models.OutcomeLowQuality
		return rec, nil
	}

	match, err := r.matcher.Match(ctx, face.Embedding)
	if err != nil {
		return rec, fmt.Errorf("match face: %w", err)
	}
	rec.Confidence = match.Confidence
	switch match.Outcome {
	case recognition.OutcomeAmbiguous:
		rec.Outcome = models.OutcomeAmbiguous
		return rec, nil
	case recognition.OutcomeNoMatch:
		rec.Outcome = models.OutcomeUnknown
		return rec, nil
	}

	id := match.IdentityID
	rec.IdentityID = &id

	at := frame.CapturedAt
	if at.IsZero() {
		at = r.now()
	}
	mark, err := r.ledger.Mark(ctx, id, match.Confidence, rec.Camera, at)
	if err != nil {
		return rec, err
	}
	rec.Event = &mark.Event
	if !mark.Created {
		rec.Outcome = models.OutcomeDuplicate
		return rec, nil
	}

	rec.Outcome = models.OutcomeMatched
	rec.AttendanceMarked = true
	observability.AttendanceMarked.WithLabelValues(rec.Camera).Inc()
	slog.Info("attendance marked", "identity_id", id, "camera", rec.Camera, "confidence", match.Confidence, "date", mark.Event.Date)

	if r.publisher != nil {
		resp := dto.NewAttendanceResponse(mark.Event)
		evt := &dto.WSEvent{Type: dto.WSAttendanceMarked, Camera: rec.Camera, Attendance: &resp}
		if err := r.publisher.PublishEvent(ctx, rec.Camera, evt); err != nil {
			slog.Warn("publish attendance event failed", "identity_id", id, "error", err)
		}
	}
	return rec, nil
}

// record appends the diagnostic detection log. Its failures never affect the
// recognition result.
func (r *Recognizer) record(ctx context.Context, rec Recognition, elapsed time.Duration, recErr error) {
	if r.logs == nil {
		return
	}
	entry := &models.DetectionLog{
		Camera:        rec.Camera,
		Outcome:       rec.Outcome,
		FacesDetected: rec.FacesDetected,
		IdentityID:    rec.IdentityID,
		Confidence:    float32(rec.Confidence),
		ProcessingMS:  elapsed.Milliseconds(),
	}
	if recErr != nil {
		entry.ErrorMessage = recErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.logs.AppendDetectionLog(ctx, entry); err != nil {
		slog.Warn("append detection log failed", "camera", rec.Camera, "error", err)
	}
}
