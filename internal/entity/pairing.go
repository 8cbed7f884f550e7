package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
)

// PhotoRef points at an uploaded photo on disk.
type PhotoRef struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// PairedPhotoSource links an ingredients photo and a directions photo.
type PairedPhotoSource struct {
	Token       string                  `json:"token"`
	UserID      uuid.UUID               `json:"user_id"`
	RecipeName  string                  `json:"recipe_name,omitempty"`
	Ingredients *PhotoRef               `json:"ingredients,omitempty"`
	Directions  *PhotoRef               `json:"directions,omitempty"`
	Status      constants.PairingStatus `json:"status"`
	JobID       *uuid.UUID              `json:"job_id,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// Complete reports whether both slots hold a photo.
func (p *PairedPhotoSource) Complete() bool {
	return p.Ingredients != nil && p.Directions != nil
}
