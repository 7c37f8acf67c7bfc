package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/embedding"
	"github.com/your-org/faceattend/internal/models"
)

// SQLiteStore backs single-node deployments and tests. Embeddings are stored
// as little-endian float32 blobs.
type SQLiteStore struct {
	db *gorm.DB
}

type identityRow struct {
	ID         string  `gorm:"primaryKey;size:36"`
	Name       string  `gorm:"not null;default:''"`
	ExternalID *string `gorm:"uniqueIndex"`
	GroupName  string  `gorm:"index;not null;default:''"`
	Metadata   string  `gorm:"type:text;not null;default:'{}'"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (identityRow) TableName() string { return "identities" }

type templateRow struct {
	IdentityID    string `gorm:"primaryKey;size:36"`
	Embedding     []byte `gorm:"not null"`
	ModelVersion  string `gorm:"not null"`
	Quality       float32
	LivenessScore float32
	SessionID     *string `gorm:"size:36"`
	PhotoKey      string
	CreatedAt     time.Time
}

func (templateRow) TableName() string { return "templates" }

type attendanceRow struct {
	ID             string    `gorm:"primaryKey;size:36"`
	IdentityID     string    `gorm:"size:36;not null;uniqueIndex:idx_attendance_identity_date"`
	AttendanceDate string    `gorm:"size:10;not null;uniqueIndex:idx_attendance_identity_date;index"`
	DetectedAt     time.Time `gorm:"not null"`
	Confidence     float32
	Camera         string
	CreatedAt      time.Time
}

func (attendanceRow) TableName() string { return "attendance_events" }

type detectionLogRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	Camera        string `gorm:"index"`
	Outcome       string `gorm:"not null"`
	FacesDetected int
	IdentityID    *string `gorm:"size:36"`
	Confidence    float32
	ProcessingMS  int64
	ErrorMessage  string
	CreatedAt     time.Time `gorm:"index"`
}

func (detectionLogRow) TableName() string { return "detection_logs" }

type cameraRow struct {
	Name         string `gorm:"primaryKey"`
	URL          string `gorm:"not null"`
	SourceType   string `gorm:"not null"`
	FPS          int
	Status       string `gorm:"not null"`
	ErrorMessage string
	LastFrameAt  *time.Time
	UpdatedAt    time.Time
}

func (cameraRow) TableName() string { return "cameras" }

func NewSQLiteStore(cfg config.DatabaseConfig) (*SQLiteStore, error) {
	dsn := cfg.Path
	if dsn == "" || dsn == ":memory:" {
		// Named shared-cache memory database, private to this store.
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// A single connection serialises writers; SQLite allows one at a time anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&identityRow{}, &templateRow{}, &attendanceRow{}, &detectionLogRow{}, &cameraRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --- Identities ---

func identityToRow(id *models.Identity) identityRow {
	meta := string(id.Metadata)
	if meta == "" {
		meta = "{}"
	}
	return identityRow{
		ID:         id.ID.String(),
		Name:       id.Name,
		ExternalID: nullable(id.ExternalID),
		GroupName:  id.GroupName,
		Metadata:   meta,
		CreatedAt:  id.CreatedAt,
		UpdatedAt:  id.UpdatedAt,
	}
}

func (r identityRow) model() models.Identity {
	id := models.Identity{
		ID:        uuid.MustParse(r.ID),
		Name:      r.Name,
		GroupName: r.GroupName,
		Metadata:  json.RawMessage(r.Metadata),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ExternalID != nil {
		id.ExternalID = *r.ExternalID
	}
	return id
}

func prepareIdentity(id *models.Identity) {
	if id.ID == uuid.Nil {
		id.ID = uuid.New()
	}
	if id.Metadata == nil {
		id.Metadata = json.RawMessage("{}")
	}
	now := time.Now().UTC()
	id.CreatedAt, id.UpdatedAt = now, now
}

func (s *SQLiteStore) CreateIdentity(ctx context.Context, id *models.Identity) error {
	prepareIdentity(id)
	row := identityToRow(id)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("create identity: external id %q: %w", id.ExternalID, ErrConflict)
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	var row identityRow
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	ident := row.model()
	return &ident, nil
}

func (s *SQLiteStore) UpdateIdentity(ctx context.Context, id *models.Identity) error {
	if id.Metadata == nil {
		id.Metadata = json.RawMessage("{}")
	}
	id.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&identityRow{}).Where("id = ?", id.ID.String()).Updates(map[string]any{
		"name":        id.Name,
		"external_id": nullable(id.ExternalID),
		"group_name":  id.GroupName,
		"metadata":    string(id.Metadata),
		"updated_at":  id.UpdatedAt,
	})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("update identity: external id %q: %w", id.ExternalID, ErrConflict)
		}
		return fmt.Errorf("update identity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update identity: %w", ErrNotFound)
	}
	return nil
}

// DeleteIdentity removes the identity with its template and attendance rows.
func (s *SQLiteStore) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	key := id.String()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", key).Delete(&identityRow{})
		if res.Error != nil {
			return fmt.Errorf("delete identity: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("delete identity: %w", ErrNotFound)
		}
		if err := tx.Where("identity_id = ?", key).Delete(&templateRow{}).Error; err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
		if err := tx.Where("identity_id = ?", key).Delete(&attendanceRow{}).Error; err != nil {
			return fmt.Errorf("delete attendance: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListIdentities(ctx context.Context, f IdentityFilter) ([]models.Identity, int, error) {
	q := s.db.WithContext(ctx).Model(&identityRow{})
	if f.Search != "" {
		like := "%" + f.Search + "%"
		q = q.Where("name LIKE ? OR external_id LIKE ?", like, like)
	}
	if f.Group != "" {
		q = q.Where("group_name = ?", f.Group)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count identities: %w", err)
	}

	var rows []identityRow
	if err := q.Order("created_at DESC").Limit(clampLimit(f.Limit)).Offset(f.Offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list identities: %w", err)
	}

	out := make([]models.Identity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, int(total), nil
}

// --- Templates ---

func templateToRow(t *models.Template) templateRow {
	row := templateRow{
		IdentityID:    t.IdentityID.String(),
		Embedding:     embedding.Marshal(t.Embedding),
		ModelVersion:  t.ModelVersion,
		Quality:       t.Quality,
		LivenessScore: t.LivenessScore,
		PhotoKey:      t.PhotoKey,
		CreatedAt:     t.CreatedAt,
	}
	if t.SessionID != nil {
		sid := t.SessionID.String()
		row.SessionID = &sid
	}
	return row
}

func (r templateRow) model() (models.Template, error) {
	vec, err := embedding.Unmarshal(r.Embedding)
	if err != nil {
		return models.Template{}, err
	}
	t := models.Template{
		IdentityID:    uuid.MustParse(r.IdentityID),
		Embedding:     vec,
		ModelVersion:  r.ModelVersion,
		Quality:       r.Quality,
		LivenessScore: r.LivenessScore,
		PhotoKey:      r.PhotoKey,
		CreatedAt:     r.CreatedAt,
	}
	if r.SessionID != nil {
		if sid, err := uuid.Parse(*r.SessionID); err == nil {
			t.SessionID = &sid
		}
	}
	return t, nil
}

var templateUpsert = clause.OnConflict{
	Columns:   []clause.Column{{Name: "identity_id"}},
	UpdateAll: true,
}

func (s *SQLiteStore) UpsertTemplate(ctx context.Context, t *models.Template) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	row := templateToRow(t)
	if err := s.db.WithContext(ctx).Clauses(templateUpsert).Create(&row).Error; err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateIdentityWithTemplate(ctx context.Context, id *models.Identity, t *models.Template) error {
	prepareIdentity(id)
	t.IdentityID = id.ID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A retried enrollment whose first commit went through finds its row.
		var existing int64
		if err := tx.Model(&identityRow{}).Where("id = ?", id.ID.String()).Count(&existing).Error; err != nil {
			return fmt.Errorf("check identity: %w", err)
		}
		if existing == 0 {
			irow := identityToRow(id)
			if err := tx.Create(&irow).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("create identity: external id %q: %w", id.ExternalID, ErrConflict)
				}
				return fmt.Errorf("create identity: %w", err)
			}
		}
		trow := templateToRow(t)
		if err := tx.Clauses(templateUpsert).Create(&trow).Error; err != nil {
			return fmt.Errorf("upsert template: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, identityID uuid.UUID) (*models.Template, error) {
	var row templateRow
	err := s.db.WithContext(ctx).Where("identity_id = ?", identityID.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	t, err := row.model()
	if err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]models.Template, error) {
	var rows []templateRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]models.Template, 0, len(rows))
	for _, r := range rows {
		t, err := r.model()
		if err != nil {
			return nil, fmt.Errorf("decode template %s: %w", r.IdentityID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *SQLiteStore) CountTemplates(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&templateRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return int(n), nil
}

// --- Attendance ---

func (r attendanceRow) model() models.AttendanceEvent {
	return models.AttendanceEvent{
		ID:         uuid.MustParse(r.ID),
		IdentityID: uuid.MustParse(r.IdentityID),
		Date:       r.AttendanceDate,
		DetectedAt: r.DetectedAt,
		Confidence: r.Confidence,
		Camera:     r.Camera,
		CreatedAt:  r.CreatedAt,
	}
}

func (s *SQLiteStore) InsertAttendance(ctx context.Context, ev *models.AttendanceEvent) (bool, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.CreatedAt = time.Now().UTC()
	row := attendanceRow{
		ID:             ev.ID.String(),
		IdentityID:     ev.IdentityID.String(),
		AttendanceDate: ev.Date,
		DetectedAt:     ev.DetectedAt,
		Confidence:     ev.Confidence,
		Camera:         ev.Camera,
		CreatedAt:      ev.CreatedAt,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_id"}, {Name: "attendance_date"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert attendance: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var existing attendanceRow
	err := s.db.WithContext(ctx).
		Where("identity_id = ? AND attendance_date = ?", row.IdentityID, row.AttendanceDate).
		Take(&existing).Error
	if err != nil {
		return false, fmt.Errorf("load existing attendance: %w", err)
	}
	*ev = existing.model()
	return false, nil
}

func (s *SQLiteStore) ListAttendance(ctx context.Context, f AttendanceFilter) ([]models.AttendanceEvent, int, error) {
	q := s.db.WithContext(ctx).Model(&attendanceRow{})
	if f.From != "" {
		q = q.Where("attendance_date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("attendance_date <= ?", f.To)
	}
	if f.IdentityID != nil {
		q = q.Where("identity_id = ?", f.IdentityID.String())
	}
	if f.Camera != "" {
		q = q.Where("camera = ?", f.Camera)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}

	var rows []attendanceRow
	if err := q.Order("detected_at DESC").Limit(clampLimit(f.Limit)).Offset(f.Offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}
	out := make([]models.AttendanceEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, int(total), nil
}

func (s *SQLiteStore) GetAttendance(ctx context.Context, id uuid.UUID) (*models.AttendanceEvent, error) {
	var row attendanceRow
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	ev := row.model()
	return &ev, nil
}

func (s *SQLiteStore) DeleteAttendance(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id.String()).Delete(&attendanceRow{})
	if res.Error != nil {
		return fmt.Errorf("delete attendance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountAttendance(ctx context.Context, date string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&attendanceRow{}).Where("attendance_date = ?", date).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return int(n), nil
}

// --- Detection log ---

func (s *SQLiteStore) AppendDetectionLog(ctx context.Context, l *models.DetectionLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	row := detectionLogRow{
		ID:            l.ID.String(),
		Camera:        l.Camera,
		Outcome:       string(l.Outcome),
		FacesDetected: l.FacesDetected,
		Confidence:    l.Confidence,
		ProcessingMS:  l.ProcessingMS,
		ErrorMessage:  l.ErrorMessage,
		CreatedAt:     l.CreatedAt,
	}
	if l.IdentityID != nil {
		id := l.IdentityID.String()
		row.IdentityID = &id
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append detection log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDetectionLogs(ctx context.Context, f DetectionFilter) ([]models.DetectionLog, int, error) {
	q := s.db.WithContext(ctx).Model(&detectionLogRow{})
	if f.Camera != "" {
		q = q.Where("camera = ?", f.Camera)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count detection logs: %w", err)
	}

	var rows []detectionLogRow
	if err := q.Order("created_at DESC").Limit(clampLimit(f.Limit)).Offset(f.Offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list detection logs: %w", err)
	}

	out := make([]models.DetectionLog, 0, len(rows))
	for _, r := range rows {
		l := models.DetectionLog{
			ID:            uuid.MustParse(r.ID),
			Camera:        r.Camera,
			Outcome:       models.DetectionOutcome(r.Outcome),
			FacesDetected: r.FacesDetected,
			Confidence:    r.Confidence,
			ProcessingMS:  r.ProcessingMS,
			ErrorMessage:  r.ErrorMessage,
			CreatedAt:     r.CreatedAt,
		}
		if r.IdentityID != nil {
			if id, err := uuid.Parse(*r.IdentityID); err == nil {
				l.IdentityID = &id
			}
		}
		out = append(out, l)
	}
	return out, int(total), nil
}

// --- Cameras ---

func (r cameraRow) model() models.Camera {
	return models.Camera{
		Name:         r.Name,
		URL:          r.URL,
		Type:         models.CameraType(r.SourceType),
		FPS:          r.FPS,
		Status:       models.CameraStatus(r.Status),
		ErrorMessage: r.ErrorMessage,
		LastFrameAt:  r.LastFrameAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s *SQLiteStore) UpsertCamera(ctx context.Context, c *models.Camera) error {
	c.UpdatedAt = time.Now().UTC()
	row := cameraRow{
		Name:         c.Name,
		URL:          c.URL,
		SourceType:   string(c.Type),
		FPS:          c.FPS,
		Status:       string(c.Status),
		ErrorMessage: c.ErrorMessage,
		LastFrameAt:  c.LastFrameAt,
		UpdatedAt:    c.UpdatedAt,
	}
	update := []string{"url", "source_type", "fps", "status", "error_message", "updated_at"}
	if c.LastFrameAt != nil {
		update = append(update, "last_frame_at")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns(update),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert camera: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCamera(ctx context.Context, name string) (*models.Camera, error) {
	var row cameraRow
	if err := s.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get camera: %w", err)
	}
	c := row.model()
	return &c, nil
}

func (s *SQLiteStore) ListCameras(ctx context.Context) ([]models.Camera, error) {
	var rows []cameraRow
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	out := make([]models.Camera, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}
