package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/internal/liveness"
)

// Sessions is the part of liveness.Manager the dispatcher needs.
type Sessions interface {
	BoundSession(camera string) (uuid.UUID, bool)
	SubmitFrame(ctx context.Context, id uuid.UUID, hint *liveness.Pose, frame inference.Frame) (liveness.Result, error)
}

// Dispatcher routes camera frames. A camera with an open liveness session
// feeds that session; every other frame is recognized.
type Dispatcher struct {
	sessions   Sessions
	recognizer *Recognizer
}

// NewDispatcher accepts nil sessions for processes that only recognize.
func NewDispatcher(sessions Sessions, recognizer *Recognizer) *Dispatcher {
	return &Dispatcher{sessions: sessions, recognizer: recognizer}
}

func (d *Dispatcher) HandleFrame(ctx context.Context, frame inference.Frame) error {
	if d.sessions != nil {
		if id, ok := d.sessions.BoundSession(frame.Camera); ok {
			res, err := d.sessions.SubmitFrame(ctx, id, nil, frame)
			switch {
			case errors.Is(err, liveness.ErrSessionExpired),
				errors.Is(err, liveness.ErrSessionClosed),
				errors.Is(err, liveness.ErrSessionNotFound):
				// The session ended between lookup and submission.
				return nil
			case err != nil:
				return err
			}
			if !res.Accepted {
				slog.Debug("session frame refused", "session_id", id, "camera", frame.Camera, "reason", res.Reason)
			}
			return nil
		}
	}

	_, err := d.recognizer.RecognizeFrame(ctx, frame.Camera, frame)
	return err
}
