package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/repository"
)

func f64(v float64) *float64 { return &v }

func seed(t *testing.T, store *repository.Memory, user uuid.UUID, name string, created time.Time) {
	t.Helper()
	ctx := context.Background()
	flour, err := store.EnsureIngredient(ctx, entity.Ingredient{Name: "flour"})
	require.NoError(t, err)
	require.NoError(t, store.CreateRecipe(ctx, &entity.Recipe{
		UserID:       user,
		Name:         name,
		Instructions: []string{"Mix.", "Bake."},
		Metadata:     entity.RecipeMetadata{PrepMinutes: 10, Servings: 4},
		SourceName:   name + " (Image Upload)",
		Ingredients: []entity.RecipeIngredient{
			{Position: 1, IngredientID: flour.ID, Name: "flour", Quantity: f64(2), Unit: "cup", RawText: "2 cups flour"},
			{Position: 2, IngredientID: flour.ID, Name: "flour", QuantityMin: f64(1), QuantityMax: f64(2), Unit: "tbsp", RawText: "1-2 tbsp flour", Partial: true},
		},
		Confidence: 0.8,
		CreatedAt:  created,
	}))
}

func TestExportRecipesXLSX(t *testing.T) {
	store := repository.NewMemory(10)
	user := uuid.New()
	seed(t, store, user, "Bread", time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC))
	seed(t, store, user, "Cake", time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	seed(t, store, uuid.New(), "Other", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

	b, err := svc.ExportRecipesXLSX(context.Background(), user, &from, &to)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(recipesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Name", rows[0][0])
	assert.Equal(t, "Bread", rows[1][0])
	assert.Equal(t, "Bread (Image Upload)", rows[1][1])
	assert.Equal(t, "2", rows[1][3])
	assert.Equal(t, "1. Mix.\n2. Bake.", rows[1][10])
	assert.Equal(t, "2026-03-01", rows[1][11])

	ings, err := f.GetRows(ingredientsSheet)
	require.NoError(t, err)
	require.Len(t, ings, 3)
	assert.Equal(t, "2", ings[1][3])
	assert.Equal(t, "1-2", ings[2][3])
	assert.Equal(t, "TRUE", ings[2][8])
}

func TestExportRecipesXLSX_AllUsers(t *testing.T) {
	store := repository.NewMemory(10)
	seed(t, store, uuid.New(), "A", time.Now())
	seed(t, store, uuid.New(), "B", time.Now())

	b, err := NewService(store, nil).ExportRecipesXLSX(context.Background(), uuid.Nil, nil, nil)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(recipesSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestQuantityAndTruncate(t *testing.T) {
	assert.Equal(t, "", quantity(entity.RecipeIngredient{}))
	assert.Equal(t, "0.5", quantity(entity.RecipeIngredient{Quantity: f64(0.5)}))
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
