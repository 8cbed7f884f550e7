package normalize

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in       string
		value    float64
		min, max float64
		rng      bool
		rest     string
	}{
		{"2 cups flour", 2, 2, 2, false, "cups flour"},
		{"1.5 tsp salt", 1.5, 1.5, 1.5, false, "tsp salt"},
		{"1/2 cup sugar", 0.5, 0.5, 0.5, false, "cup sugar"},
		{"½ cup milk", 0.5, 0.5, 0.5, false, "cup milk"},
		{"2 1/2 cups flour", 2.5, 2.5, 2.5, false, "cups flour"},
		{"2½ cups flour", 2.5, 2.5, 2.5, false, "cups flour"},
		{"1-2 tbsp oil", 1.5, 1, 2, true, "tbsp oil"},
		{"1 to 3 cloves garlic", 2, 1, 3, true, "cloves garlic"},
		{"1-1/2 cups rice", 1.5, 1.5, 1.5, false, "cups rice"},
		{"12oz pasta", 12, 12, 12, false, "oz pasta"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			q, rest, ok, err := ParseQuantity(tt.in)
			require.NoError(t, err)
			require.True(t, ok)
			assert.InDelta(t, tt.value, q.Value, 1e-9)
			assert.InDelta(t, tt.min, q.Min, 1e-9)
			assert.InDelta(t, tt.max, q.Max, 1e-9)
			assert.Equal(t, tt.rng, q.Range)
			assert.Equal(t, tt.rest, rest)
		})
	}

	_, rest, ok, err := ParseQuantity("salt to taste")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "salt to taste", rest)

	_, rest, ok, err = ParseQuantity("1/0 cup sugar")
	assert.ErrorIs(t, err, errMalformedQuantity)
	assert.True(t, ok)
	assert.Equal(t, "cup sugar", rest)
}

func TestReference_Parse(t *testing.T) {
	ref := DefaultReference()

	p, err := ref.Parse("2 1/2 cups flour, sifted")
	require.NoError(t, err)
	require.NotNil(t, p.Quantity)
	assert.InDelta(t, 2.5, p.Quantity.Value, 1e-9)
	require.NotNil(t, p.Unit)
	assert.Equal(t, "cup", p.Unit.Name)
	assert.Equal(t, "flour", p.Name)
	assert.Equal(t, "sifted", p.Preparation)
	assert.Equal(t, 1.0, p.Confidence)

	p, err = ref.Parse("• 2 large eggs, beaten")
	require.NoError(t, err)
	assert.Equal(t, "eggs", p.Name)
	assert.Equal(t, "large", p.Descriptor)
	assert.Nil(t, p.Unit)
	assert.Equal(t, "beaten", p.Preparation)

	p, err = ref.Parse("1 cup finely chopped onion")
	require.NoError(t, err)
	assert.Equal(t, "onion", p.Name)
	assert.Equal(t, "finely chopped", p.Preparation)

	p, err = ref.Parse("1 (14 oz) can diced tomatoes, drained")
	require.NoError(t, err)
	assert.Equal(t, "tomatoes", p.Name)
	assert.Equal(t, "can", p.Unit.Name)
	assert.Equal(t, "14 oz", p.Descriptor)
	assert.Equal(t, "diced, drained", p.Preparation)

	p, err = ref.Parse("2 Tbsp. olive oil")
	require.NoError(t, err)
	assert.Equal(t, "tablespoon", p.Unit.Name)
	assert.Equal(t, "olive oil", p.Name)

	p, err = ref.Parse("a pinch of salt")
	require.NoError(t, err)
	assert.Equal(t, "pinch", p.Unit.Name)
	assert.Equal(t, "salt", p.Name)
	assert.InDelta(t, 1, p.Quantity.Value, 1e-9)

	p, err = ref.Parse("salt")
	require.NoError(t, err)
	assert.Nil(t, p.Quantity)
	assert.Equal(t, 0.5, p.Confidence)

	p, err = ref.Parse("salt to taste")
	require.NoError(t, err)
	assert.Equal(t, "salt", p.Name)
	assert.Equal(t, "to taste", p.Preparation)

	p, err = ref.Parse("2 sprigs parsley, chopped, for garnish")
	require.NoError(t, err)
	assert.Equal(t, "parsley", p.Name)
	assert.Equal(t, "chopped, for garnish", p.Preparation)

	p, err = ref.Parse("1 tbsp minced fresh parsley for garnish")
	require.NoError(t, err)
	assert.Equal(t, "fresh parsley", p.Name)
	assert.Equal(t, "minced, for garnish", p.Preparation)
}

func TestReference_ParsePartialAndRejected(t *testing.T) {
	ref := DefaultReference()

	p, err := ref.Parse("1/0 cup sugar")
	require.NoError(t, err)
	assert.True(t, p.Partial)
	assert.Nil(t, p.Quantity)
	assert.Equal(t, "sugar", p.Name)
	assert.Less(t, p.Confidence, 0.7)

	for _, line := range []string{"", "•", "▢", "cup", "cups", "tbsp", "tsp", "ab", "2 cups"} {
		_, err := ref.Parse(line)
		assert.ErrorIs(t, err, ErrNotIngredient, line)
	}
}

func TestParse_Deterministic(t *testing.T) {
	ref := DefaultReference()
	a, errA := ref.Parse("3 cloves garlic, minced")
	b, errB := ref.Parse("3 cloves garlic, minced")
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}

func TestSingularize(t *testing.T) {
	tests := map[string]string{
		"tomatoes":        "tomato",
		"cherry tomatoes": "cherry tomato",
		"berries":         "berry",
		"eggs":            "egg",
		"peaches":         "peach",
		"asparagus":       "asparagus",
		"molasses":        "molasses",
		"bay leaves":      "bay leaf",
		"pies":            "pie",
		"flour":           "flour",
	}
	for in, want := range tests {
		assert.Equal(t, want, Singularize(in), in)
	}
	assert.Equal(t, "all-purpose flour", Key("  All-Purpose   FLOUR! "))
}

func TestReference_Convert(t *testing.T) {
	ref := DefaultReference()

	v, err := ref.Convert(1, "cup", "tbsp")
	require.NoError(t, err)
	assert.InDelta(t, 16, v, 0.01)

	v, err = ref.Convert(1, "lb", "oz")
	require.NoError(t, err)
	assert.InDelta(t, 16, v, 0.01)

	v, err = ref.Convert(3, "cloves", "clove")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	_, err = ref.Convert(1, "cup", "gram")
	assert.ErrorIs(t, err, common.ErrUnresolvedConversion)

	_, err = ref.Convert(1, "can", "jar")
	assert.ErrorIs(t, err, common.ErrUnresolvedConversion)

	_, err = ref.Convert(1, "smidgen", "cup")
	assert.ErrorIs(t, err, common.ErrUnresolvedConversion)
}

func TestParseReference_Invalid(t *testing.T) {
	_, err := ParseReference([]byte("units:\n  - name: cup\n    dimension: volume\n"))
	assert.Error(t, err)

	_, err = ParseReference([]byte("units:\n  - name: cup\n    dimension: length\n    factor: 1\n"))
	assert.Error(t, err)

	_, err = ParseReference([]byte("units:\n  - {name: a, dimension: count, aliases: [x]}\n  - {name: b, dimension: count, aliases: [x]}\n"))
	assert.Error(t, err)
}

type memCatalog struct {
	mu    sync.Mutex
	items map[string]entity.Ingredient
	calls int
}

func (c *memCatalog) EnsureIngredient(_ context.Context, ing entity.Ingredient) (entity.Ingredient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if existing, ok := c.items[ing.Name]; ok {
		return existing, nil
	}
	c.items[ing.Name] = ing
	return ing, nil
}

func TestNormalizer_Normalize(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	n := New(store, nil)

	ri, err := n.Normalize(ctx, "2 1/2 cups flour, sifted")
	require.NoError(t, err)
	require.NotNil(t, ri.Quantity)
	assert.InDelta(t, 2.5, *ri.Quantity, 1e-9)
	assert.Equal(t, "cup", ri.Unit)
	assert.Equal(t, "flour", ri.Name)
	assert.Equal(t, "sifted", ri.Preparation)
	assert.Equal(t, IngredientID("flour"), ri.IngredientID)
	assert.Nil(t, ri.QuantityMin)

	m, ok, err := store.Get(ctx, "flour")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SeedConfidence, m.Confidence)
	assert.Equal(t, 1, m.Usage)

	ri, err = n.Normalize(ctx, "1-2 cups flour")
	require.NoError(t, err)
	require.NotNil(t, ri.QuantityMin)
	assert.InDelta(t, 1, *ri.QuantityMin, 1e-9)
	assert.InDelta(t, 2, *ri.QuantityMax, 1e-9)

	m, _, _ = store.Get(ctx, "flour")
	assert.Equal(t, 2, m.Usage)
}

func TestNormalizer_NearMatch(t *testing.T) {
	ctx := context.Background()
	n := New(NewMemoryStore(0), nil)

	a, err := n.Normalize(ctx, "3 tomatoes")
	require.NoError(t, err)
	b, err := n.Normalize(ctx, "1 tomato, diced")
	require.NoError(t, err)
	assert.Equal(t, a.IngredientID, b.IngredientID)
	assert.Equal(t, "tomato", a.Name)
}

func TestNormalizer_ConcurrentCreationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	catalog := &memCatalog{items: map[string]entity.Ingredient{}}
	n := New(store, nil, WithCatalog(catalog))

	const workers = 32
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ri, err := n.Normalize(ctx, fmt.Sprintf("%d cups basmati rice", i+1))
			if assert.NoError(t, err) {
				ids[i] = ri.IngredientID.String()
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, store.Len())
	assert.Len(t, catalog.items, 1)

	m, ok, err := store.Get(ctx, "basmati rice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, workers, m.Usage)
}

func TestNormalizer_TeachKeepsHigherConfidenceTarget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	n := New(store, nil)

	m, err := n.Teach(ctx, "scallions", "green onion", 0.9)
	require.NoError(t, err)
	assert.Equal(t, "green onion", m.Name)

	m, err = n.Teach(ctx, "scallion", "shallot", 0.5)
	require.NoError(t, err)
	assert.Equal(t, "green onion", m.Name)
	assert.Equal(t, 0.9, m.Confidence)

	m, err = n.Teach(ctx, "scallion", "spring onion", 0.95)
	require.NoError(t, err)
	assert.Equal(t, "spring onion", m.Name)

	ri, err := n.Normalize(ctx, "2 scallions, sliced")
	require.NoError(t, err)
	assert.Equal(t, "spring onion", ri.Name)
	assert.Equal(t, IngredientID("spring onion"), ri.IngredientID)
}

func TestNormalizer_NormalizeAll(t *testing.T) {
	n := New(NewMemoryStore(0), nil)
	lines := []string{"2 cups flour", "cups", "1/0 tsp salt", "▢", "3 eggs"}

	out, rep, err := n.NormalizeAll(context.Background(), lines)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{out[0].Position, out[1].Position, out[2].Position})
	assert.Equal(t, []string{"cups", "▢"}, rep.Rejected)
	assert.Equal(t, 1, rep.Partial)
	assert.True(t, out[1].Partial)
}

// evictingStore drops a key between the lookup and the first update.
type evictingStore struct {
	*MemoryStore
	evicted bool
}

func (s *evictingStore) Update(ctx context.Context, key string, fn func(*entity.IngredientMapping)) (entity.IngredientMapping, error) {
	if !s.evicted {
		s.evicted = true
		s.MemoryStore = NewMemoryStore(0)
		return entity.IngredientMapping{}, fmt.Errorf("mapping %q: %w", key, common.ErrNotFound)
	}
	return s.MemoryStore.Update(ctx, key, fn)
}

func TestNormalizer_EvictedMappingIsRecreated(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore(0)
	_, _, err := base.Insert(ctx, entity.IngredientMapping{Key: "flour", IngredientID: IngredientID("flour"), Name: "flour"})
	require.NoError(t, err)
	store := &evictingStore{MemoryStore: base}
	n := New(store, nil)

	out, _, err := n.NormalizeAll(ctx, []string{"2 cups flour", "1 egg"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, IngredientID("flour"), out[0].IngredientID)

	m, ok, err := store.Get(ctx, "flour")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, m.Usage)
}

func TestMemoryStore_Evicts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	for _, k := range []string{"a", "b"} {
		_, created, err := s.Insert(ctx, entity.IngredientMapping{Key: k})
		require.NoError(t, err)
		assert.True(t, created)
	}
	_, _, _ = s.Get(ctx, "a")
	_, _, _ = s.Insert(ctx, entity.IngredientMapping{Key: "c"})

	_, ok, _ := s.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 2, s.Len())

	_, created, _ := s.Insert(ctx, entity.IngredientMapping{Key: "a", Name: "other"})
	assert.False(t, created)

	_, err := s.Update(ctx, "missing", func(*entity.IngredientMapping) {})
	assert.ErrorIs(t, err, common.ErrNotFound)
}
