// Package recognition identifies a face embedding against the enrolled
// templates.
package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceattend/internal/config"
	"github.com/your-org/faceattend/internal/embedding"
	"github.com/your-org/faceattend/internal/models"
	"github.com/your-org/faceattend/internal/observability"
)

type TemplateSource interface {
	Templates(ctx context.Context) ([]models.Template, error)
}

type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeNoMatch   Outcome = "no-match"
	OutcomeAmbiguous Outcome = "ambiguous"
)

type Result struct {
	IdentityID uuid.UUID `json:"identity_id"`
	Matched    bool      `json:"matched"`
	Confidence float64   `json:"confidence"`
	Outcome    Outcome   `json:"outcome"`
}

type entry struct {
	identityID uuid.UUID
	embedding  []float32
}

type snapshot struct {
	generation uint64
	entries    []entry
	loadedAt   time.Time
}

// Matcher keeps an in-memory snapshot of all templates of the live model.
// Invalidate marks the snapshot stale; the next Match reloads it.
type Matcher struct {
	source       TemplateSource
	modelVersion string
	threshold    float64
	tieEpsilon   float64
	refresh      time.Duration
	now          func() time.Time

	generation atomic.Uint64
	snap       atomic.Pointer[snapshot]
	loadMu     sync.Mutex
}

func NewMatcher(source TemplateSource, modelVersion string, cfg config.RecognitionConfig) *Matcher {
	return &Matcher{
		source:       source,
		modelVersion: modelVersion,
		threshold:    cfg.Threshold,
		tieEpsilon:   cfg.TieEpsilon,
		refresh:      cfg.CacheRefresh,
		now:          time.Now,
	}
}

func (m *Matcher) Invalidate() {
	m.generation.Add(1)
}

// OnTemplateChange has the signature of a template store subscriber.
func (m *Matcher) OnTemplateChange(change models.TemplateChange) {
	slog.Debug("template changed, invalidating matcher", "identity_id", change.IdentityID, "action", change.Action)
	m.Invalidate()
}

func (m *Matcher) fresh(s *snapshot) bool {
	if s == nil || s.generation != m.generation.Load() {
		return false
	}
	return m.refresh <= 0 || m.now().Sub(s.loadedAt) < m.refresh
}

func (m *Matcher) current(ctx context.Context) (*snapshot, error) {
	if s := m.snap.Load(); m.fresh(s) {
		return s, nil
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	prev := m.snap.Load()
	if m.fresh(prev) {
		return prev, nil
	}

	// Read the generation first so a write racing the load leaves the new
	// snapshot stale.
	gen := m.generation.Load()
	templates, err := m.source.Templates(ctx)
	if err != nil {
		if prev != nil {
			slog.Warn("reload templates failed, serving previous snapshot", "error", err)
			return prev, nil
		}
		return nil, fmt.Errorf("load templates: %w", err)
	}

	s := &snapshot{generation: gen, loadedAt: m.now(), entries: make([]entry, 0, len(templates))}
	skipped := 0
	for _, t := range templates {
		if t.ModelVersion != m.modelVersion {
			skipped++
			continue
		}
		s.entries = append(s.entries, entry{identityID: t.IdentityID, embedding: embedding.Normalize(t.Embedding)})
	}
	if skipped > 0 {
		slog.Warn("templates from another model version ignored", "count", skipped, "model_version", m.modelVersion)
	}

	m.snap.Store(s)
	observability.TemplateCacheSize.Set(float64(len(s.entries)))
	observability.TemplateCacheReloads.Inc()
	return s, nil
}

// Match finds the enrolled identity closest to emb. A best similarity below
// the threshold is no match; two or more identities within the tie epsilon of
// the best are ambiguous and also unidentified.
func (m *Matcher) Match(ctx context.Context, emb []float32) (Result, error) {
	s, err := m.current(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(s.entries) == 0 {
		return Result{Outcome: OutcomeNoMatch}, nil
	}

	sims := make([]float64, len(s.entries))
	best := 0
	for i, e := range s.entries {
		sims[i] = embedding.Cosine(emb, e.embedding)
		if sims[i] > sims[best] {
			best = i
		}
	}

	top := sims[best]
	if top < m.threshold {
		return Result{Confidence: top, Outcome: OutcomeNoMatch}, nil
	}

	ties := 0
	for _, sim := range sims {
		if top-sim <= m.tieEpsilon {
			ties++
		}
	}
	if ties > 1 {
		return Result{Confidence: top, Outcome: OutcomeAmbiguous}, nil
	}

	return Result{
		IdentityID: s.entries[best].identityID,
		Matched:    true,
		Confidence: top,
		Outcome:    OutcomeMatched,
	}, nil
}

// Size is the number of templates in the current snapshot.
func (m *Matcher) Size() int {
	if s := m.snap.Load(); s != nil {
		return len(s.entries)
	}
	return 0
}

// Warm loads the snapshot ahead of the first Match.
func (m *Matcher) Warm(ctx context.Context) error {
	_, err := m.current(ctx)
	return err
}
