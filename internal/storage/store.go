package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Store is the relational state of the service. Getters return nil, nil when
// the row does not exist.
type Store interface {
	Ping(ctx context.Context) error
	Close()

	CreateIdentity(ctx context.Context, id *models.Identity) error
	GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error)
	UpdateIdentity(ctx context.Context, id *models.Identity) error
	DeleteIdentity(ctx context.Context, id uuid.UUID) error
	ListIdentities(ctx context.Context, f IdentityFilter) ([]models.Identity, int, error)

	GetTemplate(ctx context.Context, identityID uuid.UUID) (*models.Template, error)
	// UpsertTemplate replaces the identity's template in one statement.
	UpsertTemplate(ctx context.Context, t *models.Template) error
	// CreateIdentityWithTemplate inserts both rows in one transaction. An
	// identity whose id already exists is kept, so replaying the call only
	// rewrites the template.
	CreateIdentityWithTemplate(ctx context.Context, id *models.Identity, t *models.Template) error
	ListTemplates(ctx context.Context) ([]models.Template, error)
	CountTemplates(ctx context.Context) (int, error)

	// InsertAttendance inserts ev unless (identity, date) already exists. On a
	// duplicate it returns false and overwrites ev with the stored row.
	InsertAttendance(ctx context.Context, ev *models.AttendanceEvent) (bool, error)
	ListAttendance(ctx context.Context, f AttendanceFilter) ([]models.AttendanceEvent, int, error)
	GetAttendance(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error)
	// DeleteAttendance returns ErrNotFound for an unknown id.
	DeleteAttendance(ctx context.Context, id uuid.UUID) error
	CountAttendance(ctx context.Context, date string) (int, error)

	AppendDetectionLog(ctx context.Context, l *models.DetectionLog) error
	ListDetectionLogs(ctx context.Context, f DetectionFilter) ([]models.DetectionLog, int, error)

	UpsertCamera(ctx context.Context, c *models.Camera) error
	GetCamera(ctx context.Context, name string) (*models.Camera, error)
	ListCameras(ctx context.Context) ([]models.Camera, error)
}

type IdentityFilter struct {
	Search string
	Group  string
	Limit  int
	Offset int
}

type AttendanceFilter struct {
	From       string // inclusive, YYYY-MM-DD
	To         string // inclusive, YYYY-MM-DD
	IdentityID *uuid.UUID
	Camera     string
	Limit      int
	Offset     int
}

type DetectionFilter struct {
	Camera  string
	Outcome string
	Since   *time.Time
	Limit   int
	Offset  int
}

// Open connects to the configured database and brings its schema up to date.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := NewPostgresStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "sqlite":
		return NewSQLiteStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
