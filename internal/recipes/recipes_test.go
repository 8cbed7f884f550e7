package recipes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/repository"
)

func recipe(user uuid.UUID, name string, ingredients ...string) *entity.Recipe {
	r := &entity.Recipe{UserID: user, Name: name}
	for i, n := range ingredients {
		r.Ingredients = append(r.Ingredients, entity.RecipeIngredient{Position: i, Name: n, RawText: n})
	}
	return r
}

func TestOverlap(t *testing.T) {
	u := uuid.New()
	tests := []struct {
		name string
		a, b *entity.Recipe
		want float64
	}{
		{"identical", recipe(u, "x", "flour", "egg"), recipe(u, "x", "egg", "flour"), 1},
		{"one extra", recipe(u, "x", "flour", "egg", "milk", "salt", "sugar", "butter", "oil", "yeast", "water", "baking soda"),
			recipe(u, "x", "flour", "egg", "milk", "salt", "sugar", "butter", "oil", "yeast", "water"), 0.9},
		{"disjoint", recipe(u, "x", "flour"), recipe(u, "x", "rice"), 0},
		{"both empty", recipe(u, "x"), recipe(u, "x"), 0},
		{"case folded", recipe(u, "x", "Flour"), recipe(u, "x", "flour "), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Overlap(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSave_CreatesWhenNoDuplicate(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory(10)
	d := NewDeduper(store, nil)
	u := uuid.New()

	res, err := d.Save(ctx, recipe(u, "Pancakes", "flour", "egg"))
	require.NoError(t, err)
	assert.Equal(t, Created, res.Outcome)

	res, err = d.Save(ctx, recipe(u, "Pancakes", "rice", "beans"))
	require.NoError(t, err)
	assert.Equal(t, Created, res.Outcome)

	res, err = d.Save(ctx, recipe(uuid.New(), "Pancakes", "flour", "egg"))
	require.NoError(t, err)
	assert.Equal(t, Created, res.Outcome)

	all, err := store.ListRecipes(ctx, uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSave_TieKeepsExistingAndMerges(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory(10)
	d := NewDeduper(store, nil)
	u := uuid.New()

	first := recipe(u, "Pancakes", "flour", "egg")
	first.Instructions = []string{"Mix."}
	first.SourceName = "card.jpg (Image Upload)"
	_, err := d.Save(ctx, first)
	require.NoError(t, err)

	second := recipe(u, "pancakes!", "egg", "flour")
	second.Instructions = []string{"Whisk the eggs.", "Fold in flour and fry."}
	second.Metadata = entity.RecipeMetadata{Servings: 4}
	res, err := d.Save(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, KeptExisting, res.Outcome)
	assert.True(t, res.Outcome.Duplicate())

	got, err := store.GetRecipe(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pancakes", got.Name)
	assert.Equal(t, second.Instructions, got.Instructions)
	assert.Equal(t, 4, got.Metadata.Servings)
	assert.Equal(t, "card.jpg (Image Upload)", got.SourceName)

	all, err := store.ListRecipes(ctx, u)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSave_MoreIngredientsReplaces(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory(10)
	d := NewDeduper(store, nil, WithOverlap(0.5))
	u := uuid.New()

	first := recipe(u, "Soup", "carrot", "onion")
	first.Metadata = entity.RecipeMetadata{CookMinutes: 30}
	_, err := d.Save(ctx, first)
	require.NoError(t, err)

	second := recipe(u, "Soup", "carrot", "onion", "celery")
	res, err := d.Save(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, Replaced, res.Outcome)
	assert.Equal(t, first.ID, res.Recipe.ID)

	got, err := store.GetRecipe(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, got.Ingredients, 3)
	assert.Equal(t, 30, got.Metadata.CookMinutes)
}

// slowLookup widens the gap between the duplicate lookup and the write.
type slowLookup struct {
	*repository.Memory
}

func (s slowLookup) FindRecipesByName(ctx context.Context, userID uuid.UUID, name string) ([]entity.Recipe, error) {
	found, err := s.Memory.FindRecipesByName(ctx, userID, name)
	time.Sleep(20 * time.Millisecond)
	return found, err
}

// lockingStore records store-level name locks.
type lockingStore struct {
	*repository.Memory
	mu     sync.Mutex
	locked []string
}

func (s *lockingStore) LockRecipeName(_ context.Context, userID uuid.UUID, name string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = append(s.locked, userID.String()+"/"+entity.RecipeNameKey(name))
	return func() {}, nil
}

func TestSave_TakesStoreLock(t *testing.T) {
	store := &lockingStore{Memory: repository.NewMemory(10)}
	d := NewDeduper(store, nil)
	u := uuid.New()

	_, err := d.Save(context.Background(), recipe(u, "Banana Bread!", "banana", "flour"))
	require.NoError(t, err)
	assert.Equal(t, []string{u.String() + "/" + entity.RecipeNameKey("banana bread")}, store.locked)
}

func TestSave_ConcurrentDuplicatesPersistOnce(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemory(10)
	d := NewDeduper(slowLookup{store}, nil)
	u := uuid.New()

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 4)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := d.Save(ctx, recipe(u, "Pancakes", "flour", "egg", "milk", "sugar", "butter"))
			assert.NoError(t, err)
			outcomes[i] = res.Outcome
		}(i)
	}
	wg.Wait()

	all, err := store.ListRecipes(ctx, u)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	created := 0
	for _, o := range outcomes {
		if o == Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Empty(t, d.locks)
}

func TestSourceName(t *testing.T) {
	tests := []struct {
		name string
		src  entity.IngestionSource
		want string
	}{
		{"url adds domain", entity.IngestionSource{Kind: constants.SourceURL, Name: "Best Chili", URL: "https://www.example.com/chili"}, "Best Chili (example.com)"},
		{"url already named", entity.IngestionSource{Kind: constants.SourceURL, Name: "example.com chili", URL: "https://example.com/chili"}, "example.com chili"},
		{"url without name", entity.IngestionSource{Kind: constants.SourceURL, URL: "https://food.example.org/x"}, "food.example.org"},
		{"single image", entity.IngestionSource{Kind: constants.SourceImage, Name: "card.jpg", ImagePaths: []string{"a"}}, "card.jpg (Image Upload)"},
		{"paired images", entity.IngestionSource{Kind: constants.SourceImage, Name: "Stew", ImagePaths: []string{"a", "b"}}, "Stew (Multi-Image Upload)"},
		{"text", entity.IngestionSource{Kind: constants.SourceText, Name: "pasted"}, "pasted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SourceName(&tt.src))
		})
	}
}
