package entity

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
)

// RecipeMetadata holds labeled fields found next to a recipe.
type RecipeMetadata struct {
	PrepMinutes  int    `json:"prep_time,omitempty"`
	CookMinutes  int    `json:"cook_time,omitempty"`
	TotalMinutes int    `json:"total_time,omitempty"`
	Servings     int    `json:"servings,omitempty"`
	Difficulty   string `json:"difficulty,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Empty reports whether no metadata field was found.
func (m RecipeMetadata) Empty() bool {
	return m == RecipeMetadata{}
}

// ExtractedRecipe is a candidate recipe before normalization.
type ExtractedRecipe struct {
	ID             uuid.UUID                       `json:"id"`
	JobID          uuid.UUID                       `json:"job_id"`
	RawName        string                          `json:"raw_name"`
	RawIngredients []string                        `json:"raw_ingredients"`
	RawSteps       []string                        `json:"raw_steps"`
	Metadata       RecipeMetadata                  `json:"metadata"`
	Confidence     float64                         `json:"confidence"`
	LowConfidence  bool                            `json:"low_confidence"`
	Status         constants.ExtractedRecipeStatus `json:"status"`
	CreatedAt      time.Time                       `json:"created_at"`
}

// Recipe is a persisted, normalized recipe owned by a user.
type Recipe struct {
	ID           uuid.UUID          `json:"id"`
	UserID       uuid.UUID          `json:"user_id"`
	Name         string             `json:"name"`
	Instructions []string           `json:"instructions"`
	Metadata     RecipeMetadata     `json:"metadata"`
	SourceName   string             `json:"source_name"`
	SourceURL    string             `json:"source_url,omitempty"`
	SourceKind   string             `json:"source_kind"`
	Ingredients  []RecipeIngredient `json:"ingredients"`
	Confidence   float64            `json:"confidence"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// RecipeIngredient is one normalized ingredient line of a recipe.
type RecipeIngredient struct {
	Position     int       `json:"position"`
	IngredientID uuid.UUID `json:"ingredient_id"`
	Name         string    `json:"name"`
	Quantity     *float64  `json:"quantity,omitempty"`
	QuantityMin  *float64  `json:"quantity_min,omitempty"`
	QuantityMax  *float64  `json:"quantity_max,omitempty"`
	Unit         string    `json:"unit,omitempty"`
	Descriptor   string    `json:"descriptor,omitempty"`
	Preparation  string    `json:"preparation,omitempty"`
	RawText      string    `json:"raw_text"`
	Confidence   float64   `json:"confidence"`
	Partial      bool      `json:"partial"`
}

// RecipeNameKey folds a recipe name for duplicate lookups: lower case,
// punctuation dropped, single spaces.
func RecipeNameKey(name string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			space = true
		}
	}
	return b.String()
}
