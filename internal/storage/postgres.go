package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// --- Identities ---

func (s *PostgresStore) CreateIdentity(ctx context.Context, id *models.Identity) error {
	return insertIdentity(ctx, s.pool, id)
}

func insertIdentity(ctx context.Context, db execer, id *models.Identity) error {
	if id.ID == uuid.Nil {
		id.ID = uuid.New()
	}
	if id.Metadata == nil {
		id.Metadata = json.RawMessage("{}")
	}
	now := time.Now().UTC()
	id.CreatedAt, id.UpdatedAt = now, now

	_, err := db.Exec(ctx,
		`INSERT INTO identities (id, name, external_id, group_name, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id.ID, id.Name, nullable(id.ExternalID), id.GroupName, id.Metadata, id.CreatedAt, id.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create identity: external id %q: %w", id.ExternalID, ErrConflict)
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

const identityColumns = `id, name, COALESCE(external_id, ''), group_name, metadata, created_at, updated_at`

func scanIdentity(row pgx.Row, id *models.Identity) error {
	return row.Scan(&id.ID, &id.Name, &id.ExternalID, &id.GroupName, &id.Metadata, &id.CreatedAt, &id.UpdatedAt)
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	ident := &models.Identity{}
	err := scanIdentity(s.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id), ident)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return ident, nil
}

func (s *PostgresStore) UpdateIdentity(ctx context.Context, id *models.Identity) error {
	if id.Metadata == nil {
		id.Metadata = json.RawMessage("{}")
	}
	id.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE identities SET name = $1, external_id = $2, group_name = $3, metadata = $4, updated_at = $5
		 WHERE id = $6`,
		id.Name, nullable(id.ExternalID), id.GroupName, id.Metadata, id.UpdatedAt, id.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update identity: external id %q: %w", id.ExternalID, ErrConflict)
		}
		return fmt.Errorf("update identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update identity: %w", ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete identity: %w", ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListIdentities(ctx context.Context, f IdentityFilter) ([]models.Identity, int, error) {
	where := "WHERE 1=1"
	var args []any
	argIdx := 1

	if f.Search != "" {
		where += fmt.Sprintf(" AND (name ILIKE $%d OR external_id ILIKE $%d)", argIdx, argIdx)
		args = append(args, "%"+f.Search+"%")
		argIdx++
	}
	if f.Group != "" {
		where += fmt.Sprintf(" AND group_name = $%d", argIdx)
		args = append(args, f.Group)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count identities: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM identities %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		identityColumns, where, argIdx, argIdx+1)
	args = append(args, clampLimit(f.Limit), f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		var ident models.Identity
		if err := scanIdentity(rows, &ident); err != nil {
			return nil, 0, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, ident)
	}
	return out, total, rows.Err()
}

// --- Templates ---

func upsertTemplate(ctx context.Context, db execer, t *models.Template) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	vec := pgvector.NewVector(t.Embedding)
	_, err := db.Exec(ctx,
		`INSERT INTO templates (identity_id, embedding, model_version, quality, liveness_score, session_id, photo_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (identity_id) DO UPDATE SET
		   embedding = EXCLUDED.embedding,
		   model_version = EXCLUDED.model_version,
		   quality = EXCLUDED.quality,
		   liveness_score = EXCLUDED.liveness_score,
		   session_id = EXCLUDED.session_id,
		   photo_key = EXCLUDED.photo_key,
		   created_at = EXCLUDED.created_at`,
		t.IdentityID, vec, t.ModelVersion, t.Quality, t.LivenessScore, t.SessionID, t.PhotoKey, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertTemplate(ctx context.Context, t *models.Template) error {
	return upsertTemplate(ctx, s.pool, t)
}

func (s *PostgresStore) CreateIdentityWithTemplate(ctx context.Context, id *models.Identity, t *models.Template) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// A retried enrollment whose first commit went through finds its row.
	var exists bool
	if id.ID != uuid.Nil {
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, id.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check identity: %w", err)
		}
	}
	if !exists {
		if err := insertIdentity(ctx, tx, id); err != nil {
			return err
		}
	}
	t.IdentityID = id.ID
	if err := upsertTemplate(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}

const templateColumns = `identity_id, embedding::text, model_version, quality, liveness_score, session_id, photo_key, created_at`

func scanTemplate(row pgx.Row, t *models.Template) error {
	var raw string
	if err := row.Scan(&t.IdentityID, &raw, &t.ModelVersion, &t.Quality, &t.LivenessScore,
		&t.SessionID, &t.PhotoKey, &t.CreatedAt); err != nil {
		return err
	}
	var vec pgvector.Vector
	if err := vec.Scan(raw); err != nil {
		return fmt.Errorf("parse embedding: %w", err)
	}
	t.Embedding = vec.Slice()
	return nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, identityID uuid.UUID) (*models.Template, error) {
	t := &models.Template{}
	err := scanTemplate(s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE identity_id = $1`, identityID), t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]models.Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+templateColumns+` FROM templates`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []models.Template
	for rows.Next() {
		var t models.Template
		if err := scanTemplate(rows, &t); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountTemplates(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM templates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return n, nil
}

// --- Attendance ---

const attendanceColumns = `id, identity_id, attendance_date::text, detected_at, confidence, camera, created_at`

func scanAttendance(row pgx.Row, ev *models.AttendanceEvent) error {
	return row.Scan(&ev.ID, &ev.IdentityID, &ev.Date, &ev.DetectedAt, &ev.Confidence, &ev.Camera, &ev.CreatedAt)
}

func (s *PostgresStore) InsertAttendance(ctx context.Context, ev *models.AttendanceEvent) (bool, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO attendance_events (id, identity_id, attendance_date, detected_at, confidence, camera)
		 VALUES ($1, $2, $3::date, $4, $5, $6)
		 ON CONFLICT (identity_id, attendance_date) DO NOTHING
		 RETURNING created_at`,
		ev.ID, ev.IdentityID, ev.Date, ev.DetectedAt, ev.Confidence, ev.Camera,
	).Scan(&ev.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("insert attendance: %w", err)
	}

	err = scanAttendance(s.pool.QueryRow(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_events WHERE identity_id = $1 AND attendance_date = $2::date`,
		ev.IdentityID, ev.Date), ev)
	if err != nil {
		return false, fmt.Errorf("load existing attendance: %w", err)
	}
	return false, nil
}

func (s *PostgresStore) ListAttendance(ctx context.Context, f AttendanceFilter) ([]models.AttendanceEvent, int, error) {
	where := "WHERE 1=1"
	var args []any
	argIdx := 1

	if f.From != "" {
		where += fmt.Sprintf(" AND attendance_date >= $%d::date", argIdx)
		args = append(args, f.From)
		argIdx++
	}
	if f.To != "" {
		where += fmt.Sprintf(" AND attendance_date <= $%d::date", argIdx)
		args = append(args, f.To)
		argIdx++
	}
	if f.IdentityID != nil {
		where += fmt.Sprintf(" AND identity_id = $%d", argIdx)
		args = append(args, *f.IdentityID)
		argIdx++
	}
	if f.Camera != "" {
		where += fmt.Sprintf(" AND camera = $%d", argIdx)
		args = append(args, f.Camera)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance_events "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM attendance_events %s ORDER BY detected_at DESC LIMIT $%d OFFSET $%d`,
		attendanceColumns, where, argIdx, argIdx+1)
	args = append(args, clampLimit(f.Limit), f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var out []models.AttendanceEvent
	for rows.Next() {
		var ev models.AttendanceEvent
		if err := scanAttendance(rows, &ev); err != nil {
			return nil, 0, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, ev)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) GetAttendance(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error) {
	var ev models.AttendanceEvent
	err := scanAttendance(s.pool.QueryRow(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_events WHERE id = $1`, id), &ev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return &ev, nil
}

func (s *PostgresStore) DeleteAttendance(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM attendance_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountAttendance(ctx context.Context, date string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attendance_events WHERE attendance_date = $1::date`, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return n, nil
}

// --- Detection log ---

func (s *PostgresStore) AppendDetectionLog(ctx context.Context, l *models.DetectionLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO detection_logs (id, camera, outcome, faces_detected, identity_id, confidence, processing_ms, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.Camera, l.Outcome, l.FacesDetected, l.IdentityID, l.Confidence, l.ProcessingMS, l.ErrorMessage, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("append detection log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDetectionLogs(ctx context.Context, f DetectionFilter) ([]models.DetectionLog, int, error) {
	where := "WHERE 1=1"
	var args []any
	argIdx := 1

	if f.Camera != "" {
		where += fmt.Sprintf(" AND camera = $%d", argIdx)
		args = append(args, f.Camera)
		argIdx++
	}
	if f.Outcome != "" {
		where += fmt.Sprintf(" AND outcome = $%d", argIdx)
		args = append(args, f.Outcome)
		argIdx++
	}
	if f.Since != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM detection_logs "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count detection logs: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, camera, outcome, faces_detected, identity_id, confidence, processing_ms, error_message, created_at
		 FROM detection_logs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, clampLimit(f.Limit), f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list detection logs: %w", err)
	}
	defer rows.Close()

	var out []models.DetectionLog
	for rows.Next() {
		var l models.DetectionLog
		if err := rows.Scan(&l.ID, &l.Camera, &l.Outcome, &l.FacesDetected, &l.IdentityID,
			&l.Confidence, &l.ProcessingMS, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan detection log: %w", err)
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

// --- Cameras ---

func (s *PostgresStore) UpsertCamera(ctx context.Context, c *models.Camera) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cameras (name, url, source_type, fps, status, error_message, last_frame_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (name) DO UPDATE SET
		   url = EXCLUDED.url,
		   source_type = EXCLUDED.source_type,
		   fps = EXCLUDED.fps,
		   status = EXCLUDED.status,
		   error_message = EXCLUDED.error_message,
		   last_frame_at = COALESCE(EXCLUDED.last_frame_at, cameras.last_frame_at),
		   updated_at = EXCLUDED.updated_at`,
		c.Name, c.URL, c.Type, c.FPS, c.Status, c.ErrorMessage, c.LastFrameAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert camera: %w", err)
	}
	return nil
}

const cameraColumns = `name, url, source_type, fps, status, error_message, last_frame_at, updated_at`

func scanCamera(row pgx.Row, c *models.Camera) error {
	return row.Scan(&c.Name, &c.URL, &c.Type, &c.FPS, &c.Status, &c.ErrorMessage, &c.LastFrameAt, &c.UpdatedAt)
}

func (s *PostgresStore) GetCamera(ctx context.Context, name string) (*models.Camera, error) {
	c := &models.Camera{}
	if err := scanCamera(s.pool.QueryRow(ctx, `SELECT `+cameraColumns+` FROM cameras WHERE name = $1`, name), c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get camera: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCameras(ctx context.Context) ([]models.Camera, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cameraColumns+` FROM cameras ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var out []models.Camera
	for rows.Next() {
		var c models.Camera
		if err := scanCamera(rows, &c); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
