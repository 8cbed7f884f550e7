// Package normalize turns raw ingredient lines into structured ingredients
// bound to canonical ingredient records.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

// SeedConfidence is the confidence of a mapping learned from a single miss.
const SeedConfidence = 0.3

var ingredientNamespace = uuid.MustParse("7c1f8a52-3d0e-4b8e-9a55-2f6b1f0c9e41")

// IngredientID derives the canonical ingredient ID from its name so that
// independent processes agree on it.
func IngredientID(canonicalName string) uuid.UUID {
	return uuid.NewSHA1(ingredientNamespace, []byte(canonicalName))
}

// Normalizer parses ingredient lines and resolves names through a MappingStore.
type Normalizer struct {
	ref     *Reference
	store   MappingStore
	catalog IngredientCatalog
	group   singleflight.Group
	log     *slog.Logger
	now     func() time.Time
}

// Option customises a Normalizer.
type Option func(*Normalizer)

// WithCatalog persists canonical ingredients as they are discovered.
func WithCatalog(c IngredientCatalog) Option { return func(n *Normalizer) { n.catalog = c } }

// WithReference replaces the embedded unit table.
func WithReference(r *Reference) Option { return func(n *Normalizer) { n.ref = r } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(n *Normalizer) { n.now = now } }

// New builds a Normalizer over store.
func New(store MappingStore, log *slog.Logger, opts ...Option) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	n := &Normalizer{store: store, log: log, now: time.Now}
	for _, o := range opts {
		o(n)
	}
	if n.ref == nil {
		n.ref = DefaultReference()
	}
	return n
}

// Reference exposes the unit table in use.
func (n *Normalizer) Reference() *Reference { return n.ref }

// Normalize parses one line and binds it to a canonical ingredient.
func (n *Normalizer) Normalize(ctx context.Context, line string) (entity.RecipeIngredient, error) {
	p, err := n.ref.Parse(line)
	if err != nil {
		return entity.RecipeIngredient{RawText: line}, err
	}
	unit := ""
	if p.Unit != nil {
		unit = p.Unit.Name
	}
	m, err := n.Resolve(ctx, p.Name, unit)
	if err != nil {
		return entity.RecipeIngredient{RawText: line}, err
	}

	ri := entity.RecipeIngredient{
		IngredientID: m.IngredientID,
		Name:         m.Name,
		Unit:         unit,
		Descriptor:   p.Descriptor,
		Preparation:  p.Preparation,
		RawText:      line,
		Confidence:   p.Confidence,
		Partial:      p.Partial,
	}
	if q := p.Quantity; q != nil {
		v, lo, hi := q.Value, q.Min, q.Max
		ri.Quantity = &v
		if q.Range {
			ri.QuantityMin, ri.QuantityMax = &lo, &hi
		}
	}
	return ri, nil
}

// Report summarises a NormalizeAll run.
type Report struct {
	Rejected []string
	Partial  int
}

// NormalizeAll normalizes every line, skipping lines that are not
// ingredients. Positions are assigned in input order starting at 1.
// Store failures abort the run.
func (n *Normalizer) NormalizeAll(ctx context.Context, lines []string) ([]entity.RecipeIngredient, Report, error) {
	var rep Report
	out := make([]entity.RecipeIngredient, 0, len(lines))
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return out, rep, err
		}
		ri, err := n.Normalize(ctx, line)
		if errors.Is(err, ErrNotIngredient) {
			rep.Rejected = append(rep.Rejected, line)
			continue
		}
		if err != nil {
			return out, rep, err
		}
		if ri.Partial {
			rep.Partial++
		}
		ri.Position = len(out) + 1
		out = append(out, ri)
	}
	return out, rep, nil
}

// Resolve returns the mapping for an ingredient name, creating the canonical
// ingredient and a low-confidence mapping on a miss. A hit bumps usage.
func (n *Normalizer) Resolve(ctx context.Context, name, unit string) (entity.IngredientMapping, error) {
	key := Key(name)
	if key == "" {
		return entity.IngredientMapping{}, ErrNotIngredient
	}
	canonical := Singularize(key)

	candidates := []string{key}
	if canonical != key {
		candidates = append(candidates, canonical)
	}
	for _, k := range candidates {
		if _, ok, err := n.store.Get(ctx, k); err != nil {
			return entity.IngredientMapping{}, err
		} else if ok {
			return n.reinforce(ctx, k, canonical, unit)
		}
	}

	// every caller joining the flight counts as one use
	if _, err, _ := n.group.Do(canonical, func() (any, error) {
		return n.create(ctx, canonical, unit)
	}); err != nil {
		return entity.IngredientMapping{}, err
	}
	return n.reinforce(ctx, canonical, canonical, unit)
}

func (n *Normalizer) create(ctx context.Context, canonical, unit string) (entity.IngredientMapping, error) {
	now := n.now()
	ing := entity.Ingredient{ID: IngredientID(canonical), Name: canonical, CreatedAt: now}
	if n.catalog != nil {
		var err error
		if ing, err = n.catalog.EnsureIngredient(ctx, ing); err != nil {
			return entity.IngredientMapping{}, fmt.Errorf("ensure ingredient %q: %w", canonical, err)
		}
	}
	m := entity.IngredientMapping{
		Key:          canonical,
		IngredientID: ing.ID,
		Name:         ing.Name,
		Unit:         unit,
		Confidence:   SeedConfidence,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	stored, created, err := n.store.Insert(ctx, m)
	if err != nil {
		return entity.IngredientMapping{}, err
	}
	if created {
		n.log.Debug("normalize.mapping.created", "key", canonical, "ingredient_id", ing.ID)
	}
	return stored, nil
}

// reinforce bumps usage of the mapping under key. A mapping evicted since
// the lookup is recreated under canonical.
func (n *Normalizer) reinforce(ctx context.Context, key, canonical, unit string) (entity.IngredientMapping, error) {
	now := n.now()
	bump := func(m *entity.IngredientMapping) {
		m.Usage++
		m.UpdatedAt = now
		if m.Unit == "" {
			m.Unit = unit
		}
	}
	m, err := n.store.Update(ctx, key, bump)
	if !errors.Is(err, common.ErrNotFound) {
		return m, err
	}
	n.log.Debug("normalize.mapping.evicted", "key", key)
	if _, err := n.create(ctx, canonical, unit); err != nil {
		return entity.IngredientMapping{}, err
	}
	return n.store.Update(ctx, canonical, bump)
}

// Teach records a curated mapping from phrase to canonicalName. An existing
// mapping pointing elsewhere is only replaced when confidence is at least
// as high as what it already holds.
func (n *Normalizer) Teach(ctx context.Context, phrase, canonicalName string, confidence float64) (entity.IngredientMapping, error) {
	key := Singularize(Key(phrase))
	target := Singularize(Key(canonicalName))
	if key == "" || target == "" {
		return entity.IngredientMapping{}, ErrNotIngredient
	}
	now := n.now()
	ing := entity.Ingredient{ID: IngredientID(target), Name: target, CreatedAt: now}
	if n.catalog != nil {
		var err error
		if ing, err = n.catalog.EnsureIngredient(ctx, ing); err != nil {
			return entity.IngredientMapping{}, fmt.Errorf("ensure ingredient %q: %w", target, err)
		}
	}

	cand := entity.IngredientMapping{
		Key:          key,
		IngredientID: ing.ID,
		Name:         ing.Name,
		Usage:        1,
		Confidence:   confidence,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if stored, created, err := n.store.Insert(ctx, cand); err != nil || created {
		return stored, err
	}

	return n.store.Update(ctx, key, func(m *entity.IngredientMapping) {
		m.UpdatedAt = now
		if m.IngredientID == cand.IngredientID {
			m.Confidence = max(m.Confidence, confidence)
			return
		}
		if confidence < m.Confidence {
			n.log.Info("normalize.mapping.kept", "key", key, "current", m.Name, "proposed", cand.Name)
			return
		}
		m.IngredientID = cand.IngredientID
		m.Name = cand.Name
		m.Confidence = confidence
	})
}
