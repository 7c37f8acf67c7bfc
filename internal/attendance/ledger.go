// Package attendance records at most one attendance event per identity per
// calendar day.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/storage"
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrEventNotFound = errors.New("attendance event not found")
)

type Repository interface {
	InsertAttendance(ctx context.Context, ev *models.AttendanceEvent) (bool, error)
	GetAttendance(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error)
	DeleteAttendance(ctx context.Context, id uuid.UUID) error
	ListAttendance(ctx context.Context, f storage.AttendanceFilter) ([]models.AttendanceEvent, int, error)
	CountAttendance(ctx context.Context, date string) (int, error)
	CountTemplates(ctx context.Context) (int, error)
}

// Ledger relies on the store's unique (identity, date) constraint; there is no
// in-process locking, so several processes may share one database.
type Ledger struct {
	repo  Repository
	loc   *time.Location
	write storage.WritePolicy
	now   func() time.Time
}

func NewLedger(repo Repository, cfg config.AttendanceConfig, write storage.WritePolicy) (*Ledger, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load attendance timezone: %w", err)
	}
	return &Ledger{repo: repo, loc: loc, write: write, now: time.Now}, nil
}

// Date is the calendar day of t in the ledger's time zone.
func (l *Ledger) Date(t time.Time) string {
	return t.In(l.loc).Format(models.DateLayout)
}

// Local is t in the ledger's time zone.
func (l *Ledger) Local(t time.Time) time.Time {
	return t.In(l.loc)
}

// Mark is the result of recording a sighting.
type Mark struct {
	Event   models.AttendanceEvent `json:"event"`
	Created bool                   `json:"created"`
}

// Mark records identityID as present on the day of at. A second sighting on
// the same day is not an error: Created is false and Event is the first one.
//
// The insert outlives ctx and is retried under the write policy; insert or
// ignore makes a repeated attempt harmless.
func (l *Ledger) Mark(ctx context.Context, identityID uuid.UUID, confidence float64, camera string, at time.Time) (Mark, error) {
	ev := models.AttendanceEvent{
		ID:         uuid.New(),
		IdentityID: identityID,
		Date:       l.Date(at),
		DetectedAt: at.UTC(),
		Confidence: float32(confidence),
		Camera:     camera,
	}

	var created bool
	err := l.write.Do(ctx, "mark attendance", nil, func(ctx context.Context) error {
		attempt := ev
		ok, err := l.repo.InsertAttendance(ctx, &attempt)
		if err != nil {
			return err
		}
		// Finding our own id means an earlier attempt committed.
		created, ev = ok || attempt.ID == ev.ID, attempt
		return nil
	})
	if err != nil {
		return Mark{}, fmt.Errorf("mark attendance: %w", err)
	}
	return Mark{Event: ev, Created: created}, nil
}

// Get returns ErrEventNotFound for an unknown id.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (models.AttendanceEvent, error) {
	ev, err := l.repo.GetAttendance(ctx, id)
	if err != nil {
		return models.AttendanceEvent{}, err
	}
	if ev == nil {
		return models.AttendanceEvent{}, ErrEventNotFound
	}
	return *ev, nil
}

// Delete removes one event, which lets the identity be marked again that day.
func (l *Ledger) Delete(ctx context.Context, id uuid.UUID) error {
	err := l.repo.DeleteAttendance(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrEventNotFound
	}
	return err
}

// exportPage is the largest page the stores return.
const exportPage = 500

// Each calls fn for every event matching f, newest first, ignoring f's paging.
func (l *Ledger) Each(ctx context.Context, f storage.AttendanceFilter, fn func(models.AttendanceEvent) error) error {
	f.Limit, f.Offset = exportPage, 0
	for {
		events, total, err := l.repo.ListAttendance(ctx, f)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := fn(ev); err != nil {
				return err
			}
		}
		f.Offset += len(events)
		if len(events) == 0 || f.Offset >= total {
			return nil
		}
	}
}

func (l *Ledger) List(ctx context.Context, f storage.AttendanceFilter) ([]models.AttendanceEvent, int, error) {
	return l.repo.ListAttendance(ctx, f)
}

// Summary counts present and enrolled identities for date, today when empty.
func (l *Ledger) Summary(ctx context.Context, date string) (models.AttendanceSummary, error) {
	if date == "" {
		date = l.Date(l.now())
	} else if _, err := time.Parse(models.DateLayout, date); err != nil {
		return models.AttendanceSummary{}, fmt.Errorf("%w %q: %v", ErrInvalidDate, date, err)
	}

	present, err := l.repo.CountAttendance(ctx, date)
	if err != nil {
		return models.AttendanceSummary{}, err
	}
	enrolled, err := l.repo.CountTemplates(ctx)
	if err != nil {
		return models.AttendanceSummary{}, err
	}
	return models.AttendanceSummary{Date: date, Present: present, Enrolled: enrolled}, nil
}
