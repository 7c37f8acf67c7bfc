// Package templates owns identities and their canonical embeddings. Every
// template write goes through Store so that readers can be told to reload.
package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/storage"
)

var (
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrModelMismatch     = errors.New("template model version does not match the live model")
	ErrDimensionMismatch = errors.New("template embedding has the wrong dimension")
	ErrNoPhoto           = errors.New("no enrollment photo")
)

// Repository is the part of storage.Store the template store needs.
type Repository interface {
	CreateIdentity(ctx context.Context, id *models.Identity) error
	GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error)
	UpdateIdentity(ctx context.Context, id *models.Identity) error
	DeleteIdentity(ctx context.Context, id uuid.UUID) error
	ListIdentities(ctx context.Context, f storage.IdentityFilter) ([]models.Identity, int, error)

	GetTemplate(ctx context.Context, identityID uuid.UUID) (*models.Template, error)
	UpsertTemplate(ctx context.Context, t *models.Template) error
	CreateIdentityWithTemplate(ctx context.Context, id *models.Identity, t *models.Template) error
	ListTemplates(ctx context.Context) ([]models.Template, error)
}

type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Publisher fans template changes out to other processes.
type Publisher interface {
	PublishTemplateChange(ctx context.Context, change models.TemplateChange) error
}

type Store struct {
	repo         Repository
	objects      ObjectStore
	publisher    Publisher
	modelVersion string
	dim          int

	mu        sync.RWMutex
	listeners []func(models.TemplateChange)
}

type Option func(*Store)

// WithObjects stores enrollment photos. Without it photos are dropped.
func WithObjects(o ObjectStore) Option {
	return func(s *Store) { s.objects = o }
}

func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

func NewStore(repo Repository, modelVersion string, dim int, opts ...Option) *Store {
	s := &Store{repo: repo, modelVersion: modelVersion, dim: dim}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ModelVersion() string { return s.modelVersion }

// Subscribe registers fn to be called synchronously after every template write
// made by this process.
func (s *Store) Subscribe(fn func(models.TemplateChange)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify(ctx context.Context, identityID uuid.UUID, action models.TemplateAction) {
	change := models.TemplateChange{IdentityID: identityID, Action: action, At: time.Now().UTC()}

	s.mu.RLock()
	listeners := append([]func(models.TemplateChange){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(change)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishTemplateChange(ctx, change); err != nil {
			slog.Warn("publish template change failed", "identity_id", identityID, "error", err)
		}
	}
}

func (s *Store) validate(t *models.Template) error {
	if t.ModelVersion != s.modelVersion {
		return fmt.Errorf("%w: got %q, want %q", ErrModelMismatch, t.ModelVersion, s.modelVersion)
	}
	if s.dim > 0 && len(t.Embedding) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(t.Embedding), s.dim)
	}
	return nil
}

// Put supersedes the template of an existing identity. photo, if present, is
// kept as the identity's enrollment photo.
func (s *Store) Put(ctx context.Context, t *models.Template, photo []byte) error {
	if err := s.validate(t); err != nil {
		return err
	}

	ident, err := s.repo.GetIdentity(ctx, t.IdentityID)
	if err != nil {
		return fmt.Errorf("get identity: %w", err)
	}
	if ident == nil {
		return ErrIdentityNotFound
	}
	prev, err := s.repo.GetTemplate(ctx, t.IdentityID)
	if err != nil {
		return fmt.Errorf("get template: %w", err)
	}

	if err := s.putPhoto(ctx, t, photo); err != nil {
		return err
	}
	t.CreatedAt = time.Now().UTC()
	if err := s.repo.UpsertTemplate(ctx, t); err != nil {
		s.dropPhoto(ctx, t.PhotoKey)
		return err
	}
	if prev != nil && prev.PhotoKey != "" && prev.PhotoKey != t.PhotoKey {
		s.dropPhoto(ctx, prev.PhotoKey)
	}

	s.notify(ctx, t.IdentityID, models.TemplateUpserted)
	return nil
}

// Enrollment is the output of a completed liveness session.
type Enrollment struct {
	SessionID uuid.UUID
	// IdentityID re-enrolls an existing identity. When nil a new identity is
	// created from Profile with the id NewIdentityID.
	IdentityID *uuid.UUID
	Profile    *models.Identity
	// NewIdentityID is fixed per session so that a retried Enroll whose
	// earlier attempt committed does not create a second identity.
	NewIdentityID uuid.UUID
	Embedding     []float32
	ModelVersion  string
	Quality       float64
	LivenessScore float64
	Photo         []byte
}

// Enroll writes the template of a verified session and returns the identity
// it belongs to. A new identity and its template are created in one
// transaction.
func (s *Store) Enroll(ctx context.Context, e Enrollment) (uuid.UUID, error) {
	sid := e.SessionID
	t := &models.Template{
		Embedding:     e.Embedding,
		ModelVersion:  e.ModelVersion,
		Quality:       float32(e.Quality),
		LivenessScore: float32(e.LivenessScore),
		SessionID:     &sid,
	}

	if e.IdentityID != nil {
		t.IdentityID = *e.IdentityID
		if err := s.Put(ctx, t, e.Photo); err != nil {
			return uuid.Nil, err
		}
		return t.IdentityID, nil
	}

	if err := s.validate(t); err != nil {
		return uuid.Nil, err
	}
	ident := &models.Identity{}
	if e.Profile != nil {
		p := *e.Profile
		ident = &p
	}
	if e.NewIdentityID != uuid.Nil {
		ident.ID = e.NewIdentityID
	}
	if ident.ID == uuid.Nil {
		ident.ID = uuid.New()
	}
	if ident.Name == "" {
		ident.Name = "enrollee " + ident.ID.String()[:8]
	}
	t.IdentityID = ident.ID

	if err := s.putPhoto(ctx, t, e.Photo); err != nil {
		return uuid.Nil, err
	}
	if err := s.repo.CreateIdentityWithTemplate(ctx, ident, t); err != nil {
		s.dropPhoto(ctx, t.PhotoKey)
		return uuid.Nil, err
	}

	s.notify(ctx, ident.ID, models.TemplateUpserted)
	return ident.ID, nil
}

func photoKey(identityID, sessionID uuid.UUID) string {
	return fmt.Sprintf("templates/%s/%s.jpg", identityID, sessionID)
}

func (s *Store) putPhoto(ctx context.Context, t *models.Template, photo []byte) error {
	if s.objects == nil || len(photo) == 0 {
		return nil
	}
	name := uuid.New()
	if t.SessionID != nil {
		name = *t.SessionID
	}
	key := photoKey(t.IdentityID, name)
	if err := s.objects.PutObject(ctx, key, photo, "image/jpeg"); err != nil {
		return fmt.Errorf("store enrollment photo: %w", err)
	}
	t.PhotoKey = key
	return nil
}

func (s *Store) dropPhoto(ctx context.Context, key string) {
	if s.objects == nil || key == "" {
		return
	}
	if err := s.objects.DeleteObject(ctx, key); err != nil {
		slog.Warn("delete enrollment photo failed", "key", key, "error", err)
	}
}

// Photo returns the enrollment photo of an identity.
func (s *Store) Photo(ctx context.Context, identityID uuid.UUID) ([]byte, error) {
	t, err := s.repo.GetTemplate(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if t == nil || t.PhotoKey == "" || s.objects == nil {
		return nil, ErrNoPhoto
	}
	data, err := s.objects.GetObject(ctx, t.PhotoKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoPhoto
	}
	return data, err
}

func (s *Store) Template(ctx context.Context, identityID uuid.UUID) (*models.Template, error) {
	return s.repo.GetTemplate(ctx, identityID)
}

// Templates returns every stored template, including ones from other model
// versions.
func (s *Store) Templates(ctx context.Context) ([]models.Template, error) {
	return s.repo.ListTemplates(ctx)
}

func (s *Store) Exists(ctx context.Context, identityID uuid.UUID) (bool, error) {
	ident, err := s.repo.GetIdentity(ctx, identityID)
	if err != nil {
		return false, fmt.Errorf("get identity: %w", err)
	}
	return ident != nil, nil
}

func (s *Store) CreateIdentity(ctx context.Context, id *models.Identity) error {
	return s.repo.CreateIdentity(ctx, id)
}

// GetIdentity returns ErrIdentityNotFound rather than a nil identity.
func (s *Store) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	ident, err := s.repo.GetIdentity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	if ident == nil {
		return nil, ErrIdentityNotFound
	}
	return ident, nil
}

func (s *Store) UpdateIdentity(ctx context.Context, id *models.Identity) error {
	err := s.repo.UpdateIdentity(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrIdentityNotFound
	}
	return err
}

func (s *Store) ListIdentities(ctx context.Context, f storage.IdentityFilter) ([]models.Identity, int, error) {
	return s.repo.ListIdentities(ctx, f)
}

// DeleteIdentity removes the identity, its template, attendance and photos.
func (s *Store) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	err := s.repo.DeleteIdentity(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrIdentityNotFound
	}
	if err != nil {
		return err
	}

	if s.objects != nil {
		if err := s.objects.DeletePrefix(ctx, fmt.Sprintf("templates/%s/", id)); err != nil {
			slog.Warn("delete identity photos failed", "identity_id", id, "error", err)
		}
	}
	s.notify(ctx, id, models.TemplateDeleted)
	return nil
}
