// Package repository persists ingestion state. Memory keeps everything in
// process; DB stores it in Postgres or SQLite.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/normalize"
)

type SourceRepository interface {
	CreateSource(ctx context.Context, src *entity.IngestionSource) error
	GetSource(ctx context.Context, id uuid.UUID) (*entity.IngestionSource, error)
	// UpdateSourceStatus sets status and, when non-nil, the processed time.
	UpdateSourceStatus(ctx context.Context, id uuid.UUID, status string, processedAt *time.Time) error
	// SetSourceText stores the text extracted from the source.
	SetSourceText(ctx context.Context, id uuid.UUID, text string) error
}

type JobRepository interface {
	CreateJob(ctx context.Context, job *entity.IngestionJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*entity.IngestionJob, error)
	UpdateJob(ctx context.Context, job *entity.IngestionJob) error
	ListJobsBySource(ctx context.Context, sourceID uuid.UUID) ([]entity.IngestionJob, error)
	// AppendLog assigns the next sequence number of the job to entry.
	AppendLog(ctx context.Context, entry *entity.ProcessingLog) error
	ListLogs(ctx context.Context, jobID uuid.UUID) ([]entity.ProcessingLog, error)
}

type ExtractedRecipeRepository interface {
	CreateExtracted(ctx context.Context, rec *entity.ExtractedRecipe) error
	SetExtractedStatus(ctx context.Context, id uuid.UUID, status constants.ExtractedRecipeStatus) error
	ListExtracted(ctx context.Context, jobID uuid.UUID) ([]entity.ExtractedRecipe, error)
}

type RecipeRepository interface {
	CreateRecipe(ctx context.Context, r *entity.Recipe) error
	UpdateRecipe(ctx context.Context, r *entity.Recipe) error
	GetRecipe(ctx context.Context, id uuid.UUID) (*entity.Recipe, error)
	// FindRecipesByName returns the user's recipes whose name folds to the
	// same key as name.
	FindRecipesByName(ctx context.Context, userID uuid.UUID, name string) ([]entity.Recipe, error)
	// ListRecipes returns a user's recipes, or every recipe for uuid.Nil.
	ListRecipes(ctx context.Context, userID uuid.UUID) ([]entity.Recipe, error)
}

type IngredientRepository interface {
	normalize.IngredientCatalog
	ListIngredients(ctx context.Context) ([]entity.Ingredient, error)
}

type PairingRepository interface {
	CreatePairing(ctx context.Context, p *entity.PairedPhotoSource) error
	GetPairing(ctx context.Context, token string) (*entity.PairedPhotoSource, error)
	UpdatePairing(ctx context.Context, p *entity.PairedPhotoSource) error
}

type EmailRepository interface {
	GetApprovedSender(ctx context.Context, email string) (*entity.ApprovedSender, error)
	UpsertApprovedSender(ctx context.Context, s *entity.ApprovedSender) error
	ListApprovedSenders(ctx context.Context) ([]entity.ApprovedSender, error)
	MessageProcessed(ctx context.Context, messageID string) (bool, error)
	// RecordProcessedEmail fails with common.ErrConflict when the message
	// ID is already recorded.
	RecordProcessedEmail(ctx context.Context, m *entity.ProcessedEmail) error
	SaveAttachment(ctx context.Context, a *entity.EmailAttachment) error
	ListAttachments(ctx context.Context, messageID string) ([]entity.EmailAttachment, error)
}

// Store is every repository behind one backend.
type Store interface {
	SourceRepository
	JobRepository
	ExtractedRecipeRepository
	RecipeRepository
	IngredientRepository
	PairingRepository
	EmailRepository
	// Mappings returns the backend's ingredient mapping store.
	Mappings() normalize.MappingStore
	Close() error
}
