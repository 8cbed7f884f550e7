package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
)

// IngestionJob represents one orchestrated run over a source.
type IngestionJob struct {
	ID           uuid.UUID          `json:"id"`
	SourceID     uuid.UUID          `json:"source_id"`
	Stage        constants.JobStage `json:"stage"`
	RecipesFound int                `json:"recipes_found"`
	RecipesSaved int                `json:"recipes_saved"`
	ErrorReason  string             `json:"error_reason,omitempty"`
	Retryable    bool               `json:"retryable"`
	StartedAt    time.Time          `json:"started_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
}

// ProcessingLog is one append-only audit row attached to a job.
type ProcessingLog struct {
	JobID     uuid.UUID            `json:"job_id"`
	Seq       int                  `json:"seq"`
	Stage     constants.JobStage   `json:"stage"`
	Outcome   constants.LogOutcome `json:"outcome"`
	Message   string               `json:"message"`
	CreatedAt time.Time            `json:"created_at"`
}
