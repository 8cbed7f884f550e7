package entity

import (
	"time"

	"github.com/google/uuid"
)

// Ingredient is a canonical, de-duplicated ingredient.
type Ingredient struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// IngredientMapping is a learned link from a raw phrase to a canonical ingredient.
type IngredientMapping struct {
	Key          string    `json:"key"`
	IngredientID uuid.UUID `json:"ingredient_id"`
	Name         string    `json:"name"`
	Unit         string    `json:"unit,omitempty"`
	Usage        int       `json:"usage"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
