package templates

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/storage"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) PutObject(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (m *memObjects) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
		}
	}
	return nil
}

func (m *memObjects) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []models.TemplateChange
	err     error
}

func (p *recordingPublisher) PublishTemplateChange(_ context.Context, c models.TemplateChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return p.err
}

func setupStore(t *testing.T, opts ...Option) (*Store, *storage.SQLiteStore) {
	t.Helper()
	db, err := storage.NewSQLiteStore(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return NewStore(db, "buffalo_l", 3, opts...), db
}

func TestPutRejectsModelMismatch(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)

	ident := &models.Identity{Name: "Alice"}
	require.NoError(t, s.CreateIdentity(ctx, ident))

	err := s.Put(ctx, &models.Template{IdentityID: ident.ID, Embedding: []float32{1, 0, 0}, ModelVersion: "antelopev2"}, nil)
	require.ErrorIs(t, err, ErrModelMismatch)

	err = s.Put(ctx, &models.Template{IdentityID: ident.ID, Embedding: []float32{1, 0}, ModelVersion: "buffalo_l"}, nil)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	got, err := s.Template(ctx, ident.ID)
	require.NoError(t, err)
	require.Nil(t, got, "rejected writes must not store anything")
}

func TestPutUnknownIdentity(t *testing.T) {
	s, _ := setupStore(t)
	err := s.Put(context.Background(), &models.Template{IdentityID: uuid.New(), Embedding: []float32{1, 0, 0}, ModelVersion: "buffalo_l"}, nil)
	require.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestPutSupersedesAndNotifies(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	pub := &recordingPublisher{err: errors.New("nats down")}
	s, _ := setupStore(t, WithObjects(objects), WithPublisher(pub))

	var seen []models.TemplateChange
	s.Subscribe(func(c models.TemplateChange) { seen = append(seen, c) })

	ident := &models.Identity{Name: "Bob"}
	require.NoError(t, s.CreateIdentity(ctx, ident))

	first, second := uuid.New(), uuid.New()
	require.NoError(t, s.Put(ctx, &models.Template{IdentityID: ident.ID, Embedding: []float32{1, 0, 0}, ModelVersion: "buffalo_l", SessionID: &first}, []byte("one")))
	require.NoError(t, s.Put(ctx, &models.Template{IdentityID: ident.ID, Embedding: []float32{0, 1, 0}, ModelVersion: "buffalo_l", SessionID: &second}, []byte("two")))

	got, err := s.Template(ctx, ident.ID)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 1, 0}, got.Embedding)
	require.Equal(t, photoKey(ident.ID, second), got.PhotoKey)

	photo, err := s.Photo(ctx, ident.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("two"), photo)
	require.Equal(t, 1, objects.Len(), "superseded photo is removed")

	require.Len(t, seen, 2)
	require.Equal(t, models.TemplateUpserted, seen[1].Action)
	require.Len(t, pub.changes, 2, "publish errors do not fail the write")
}

func TestEnrollCreatesIdentity(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	s, db := setupStore(t, WithObjects(objects))

	id, err := s.Enroll(ctx, Enrollment{
		SessionID:     uuid.New(),
		Profile:       &models.Identity{Name: "Carol", ExternalID: "R-7", GroupName: "10B"},
		Embedding:     []float32{0, 0, 1},
		ModelVersion:  "buffalo_l",
		Quality:       0.9,
		LivenessScore: 0.6,
		Photo:         []byte("jpeg"),
	})
	require.NoError(t, err)

	ident, err := s.GetIdentity(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Carol", ident.Name)

	tmpl, err := db.GetTemplate(ctx, id)
	require.NoError(t, err)
	require.InDelta(t, 0.6, tmpl.LivenessScore, 1e-6)
	require.True(t, strings.HasPrefix(tmpl.PhotoKey, "templates/"+id.String()+"/"))

	// A second enrollment with the same roll number conflicts and leaves no
	// orphaned photo behind.
	_, err = s.Enroll(ctx, Enrollment{
		SessionID:    uuid.New(),
		Profile:      &models.Identity{Name: "Carol again", ExternalID: "R-7"},
		Embedding:    []float32{0, 0, 1},
		ModelVersion: "buffalo_l",
		Photo:        []byte("jpeg"),
	})
	require.ErrorIs(t, err, storage.ErrConflict)
	require.Equal(t, 1, objects.Len())
}

func TestEnrollReplayKeepsOneIdentity(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	s, db := setupStore(t, WithObjects(objects))

	e := Enrollment{
		SessionID:     uuid.New(),
		Profile:       &models.Identity{Name: "Erin", ExternalID: "R-8"},
		NewIdentityID: uuid.New(),
		Embedding:     []float32{0, 1, 0},
		ModelVersion:  "buffalo_l",
		Photo:         []byte("jpeg"),
	}
	first, err := s.Enroll(ctx, e)
	require.NoError(t, err)
	require.Equal(t, e.NewIdentityID, first)

	again, err := s.Enroll(ctx, e)
	require.NoError(t, err, "a replay of a committed enrollment is not a roll number conflict")
	require.Equal(t, first, again)

	_, total, err := db.ListIdentities(ctx, storage.IdentityFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, 1, objects.Len())
}

func TestEnrollExistingIdentity(t *testing.T) {
	ctx := context.Background()
	s, _ := setupStore(t)

	ident := &models.Identity{Name: "Dan"}
	require.NoError(t, s.CreateIdentity(ctx, ident))

	id, err := s.Enroll(ctx, Enrollment{SessionID: uuid.New(), IdentityID: &ident.ID, Embedding: []float32{1, 0, 0}, ModelVersion: "buffalo_l"})
	require.NoError(t, err)
	require.Equal(t, ident.ID, id)

	missing := uuid.New()
	_, err = s.Enroll(ctx, Enrollment{SessionID: uuid.New(), IdentityID: &missing, Embedding: []float32{1, 0, 0}, ModelVersion: "buffalo_l"})
	require.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestDeleteIdentityRemovesPhotos(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	s, _ := setupStore(t, WithObjects(objects))

	var actions []models.TemplateAction
	s.Subscribe(func(c models.TemplateChange) { actions = append(actions, c.Action) })

	id, err := s.Enroll(ctx, Enrollment{SessionID: uuid.New(), Profile: &models.Identity{Name: "Erin"}, Embedding: []float32{1, 0, 0}, ModelVersion: "buffalo_l", Photo: []byte("x")})
	require.NoError(t, err)
	require.Equal(t, 1, objects.Len())

	require.NoError(t, s.DeleteIdentity(ctx, id))
	require.Zero(t, objects.Len())
	require.Equal(t, []models.TemplateAction{models.TemplateUpserted, models.TemplateDeleted}, actions)

	_, err = s.GetIdentity(ctx, id)
	require.ErrorIs(t, err, ErrIdentityNotFound)
	require.ErrorIs(t, s.DeleteIdentity(ctx, id), ErrIdentityNotFound)

	_, err = s.Photo(ctx, id)
	require.ErrorIs(t, err, ErrNoPhoto)
}
