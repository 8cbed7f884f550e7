// Package recipes saves normalized recipes, folding save-time duplicates
// into the existing record.
package recipes

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/repository"
)

// DefaultOverlap is the ingredient-set overlap at which two recipes with the
// same name are considered the same recipe.
const DefaultOverlap = 0.9

// Outcome says what Save did with a recipe.
type Outcome string

const (
	// Created means no duplicate existed.
	Created Outcome = "created"
	// KeptExisting means a duplicate existed and won; new data was merged in.
	KeptExisting Outcome = "kept_existing"
	// Replaced means a duplicate existed and the incoming version won.
	Replaced Outcome = "replaced"
)

// Duplicate reports whether the outcome folded the recipe into another one.
func (o Outcome) Duplicate() bool { return o == KeptExisting || o == Replaced }

// nameLocker is implemented by stores shared between processes.
type nameLocker interface {
	LockRecipeName(ctx context.Context, userID uuid.UUID, name string) (func(), error)
}

type SaveResult struct {
	Recipe  *entity.Recipe
	Outcome Outcome
}

// Deduper saves recipes, detecting duplicates of the same user's recipes.
type Deduper struct {
	repo      repository.RecipeRepository
	threshold float64
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	sync.Mutex
	refs int
}

type Option func(*Deduper)

func WithOverlap(t float64) Option {
	return func(d *Deduper) {
		if t > 0 && t <= 1 {
			d.threshold = t
		}
	}
}

func NewDeduper(repo repository.RecipeRepository, logger *slog.Logger, opts ...Option) *Deduper {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deduper{
		repo:      repo,
		threshold: DefaultOverlap,
		logger:    logger,
		locks:     make(map[string]*nameLock),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Save stores r, or merges it into an existing duplicate. A duplicate has
// the same owner, the same folded name, and an ingredient overlap at or
// above the threshold. The version with more ingredients wins; on a tie the
// existing record is kept. Saves of the same owner and folded name are
// serialized so concurrent jobs cannot both create the recipe.
func (d *Deduper) Save(ctx context.Context, r *entity.Recipe) (SaveResult, error) {
	unlock := d.lock(r.UserID.String() + "/" + entity.RecipeNameKey(r.Name))
	defer unlock()
	if l, ok := d.repo.(nameLocker); ok {
		release, err := l.LockRecipeName(ctx, r.UserID, r.Name)
		if err != nil {
			return SaveResult{}, fmt.Errorf("lock %q: %w", r.Name, err)
		}
		defer release()
	}

	candidates, err := d.repo.FindRecipesByName(ctx, r.UserID, r.Name)
	if err != nil {
		return SaveResult{}, fmt.Errorf("find duplicates: %w", err)
	}
	for i := range candidates {
		existing := &candidates[i]
		ov := Overlap(existing, r)
		if ov < d.threshold {
			continue
		}
		outcome := KeptExisting
		if len(r.Ingredients) > len(existing.Ingredients) {
			outcome = Replaced
		}
		merged := merge(existing, r, outcome)
		if err := d.repo.UpdateRecipe(ctx, merged); err != nil {
			return SaveResult{}, fmt.Errorf("update duplicate %s: %w", existing.ID, err)
		}
		d.logger.Info("recipes.duplicate",
			"recipe_id", merged.ID, "name", merged.Name, "overlap", ov, "outcome", outcome)
		return SaveResult{Recipe: merged, Outcome: outcome}, nil
	}

	if err := d.repo.CreateRecipe(ctx, r); err != nil {
		return SaveResult{}, err
	}
	return SaveResult{Recipe: r, Outcome: Created}, nil
}

func (d *Deduper) lock(key string) func() {
	d.mu.Lock()
	l, ok := d.locks[key]
	if !ok {
		l = &nameLock{}
		d.locks[key] = l
	}
	l.refs++
	d.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, key)
		}
		d.mu.Unlock()
	}
}

// Overlap is |A∩B| / max(|A|,|B|) over the canonical ingredients of a and b.
// Two recipes without ingredients do not overlap.
func Overlap(a, b *entity.Recipe) float64 {
	sa, sb := ingredientSet(a), ingredientSet(b)
	largest := max(len(sa), len(sb))
	if largest == 0 {
		return 0
	}
	shared := 0
	for k := range sa {
		if _, ok := sb[k]; ok {
			shared++
		}
	}
	return float64(shared) / float64(largest)
}

func ingredientSet(r *entity.Recipe) map[string]struct{} {
	set := make(map[string]struct{}, len(r.Ingredients))
	for _, ing := range r.Ingredients {
		key := strings.ToLower(strings.TrimSpace(ing.Name))
		if ing.IngredientID != uuid.Nil {
			key = ing.IngredientID.String()
		}
		if key != "" {
			set[key] = struct{}{}
		}
	}
	return set
}

// merge returns the record to store for a duplicate pair. It keeps the
// existing identity and owner, takes the ingredients of the winner, the
// longer instruction list, and fills metadata the winner lacks from the
// other version.
func merge(existing, incoming *entity.Recipe, outcome Outcome) *entity.Recipe {
	winner, other := existing, incoming
	if outcome == Replaced {
		winner, other = incoming, existing
	}
	out := *winner
	out.ID = existing.ID
	out.UserID = existing.UserID
	out.CreatedAt = existing.CreatedAt
	out.UpdatedAt = incoming.UpdatedAt
	out.Ingredients = append([]entity.RecipeIngredient(nil), winner.Ingredients...)
	out.Instructions = append([]string(nil), winner.Instructions...)
	if instructionLen(other.Instructions) > instructionLen(winner.Instructions) {
		out.Instructions = append([]string(nil), other.Instructions...)
	}

	md := &out.Metadata
	if md.PrepMinutes == 0 {
		md.PrepMinutes = other.Metadata.PrepMinutes
	}
	if md.CookMinutes == 0 {
		md.CookMinutes = other.Metadata.CookMinutes
	}
	if md.TotalMinutes == 0 {
		md.TotalMinutes = other.Metadata.TotalMinutes
	}
	if md.Servings == 0 {
		md.Servings = other.Metadata.Servings
	}
	if md.Difficulty == "" {
		md.Difficulty = other.Metadata.Difficulty
	}
	if md.Description == "" {
		md.Description = other.Metadata.Description
	}
	if out.SourceURL == "" {
		out.SourceURL = other.SourceURL
	}
	out.Confidence = max(existing.Confidence, incoming.Confidence)
	return &out
}

func instructionLen(steps []string) int {
	n := 0
	for _, s := range steps {
		n += len(s)
	}
	return n
}

// SourceName labels a saved recipe with where it came from: the site domain
// for URLs, an upload marker for photos.
func SourceName(src *entity.IngestionSource) string {
	name := strings.TrimSpace(src.Name)
	switch src.Kind {
	case constants.SourceURL:
		u, err := url.Parse(src.URL)
		if err != nil || u.Hostname() == "" {
			return name
		}
		domain := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if name == "" {
			return domain
		}
		if strings.Contains(strings.ToLower(name), domain) {
			return name
		}
		return fmt.Sprintf("%s (%s)", name, domain)
	case constants.SourceImage:
		marker := "(Image Upload)"
		if len(src.ImagePaths) > 1 {
			marker = "(Multi-Image Upload)"
		}
		if name == "" {
			return marker
		}
		return name + " " + marker
	}
	return name
}
