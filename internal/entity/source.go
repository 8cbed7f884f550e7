package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
)

// IngestionSource is one raw input submitted for ingestion.
type IngestionSource struct {
	ID          uuid.UUID              `json:"id"`
	UserID      uuid.UUID              `json:"user_id"`
	Kind        constants.SourceKind   `json:"kind"`
	Origin      constants.SourceOrigin `json:"origin"`
	Name        string                 `json:"name"`
	URL         string                 `json:"url,omitempty"`
	ImagePaths  []string               `json:"image_paths,omitempty"`
	RawText     string                 `json:"raw_text,omitempty"`
	Status      string                 `json:"status"`
	PairToken   string                 `json:"pair_token,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
}

// Paired reports whether the source is an ingredients photo followed by a
// directions photo, as produced by the correlator or the email poller.
func (s *IngestionSource) Paired() bool {
	if s.Kind != constants.SourceImage || len(s.ImagePaths) != 2 {
		return false
	}
	return s.Origin == constants.OriginPaired || s.Origin == constants.OriginEmail
}
