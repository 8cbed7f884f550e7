package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/extract"
	"github.com/joseph-ayodele/recipe-ingest/internal/parser"
	"github.com/joseph-ayodele/recipe-ingest/internal/repository"
)

// ErrJobFailed is returned by Process when the job ended in the failed stage.
var ErrJobFailed = errors.New("ingestion job failed")

// Store is the persistence the orchestrator needs.
type Store interface {
	repository.SourceRepository
	repository.JobRepository
	repository.ExtractedRecipeRepository
}

// PairingTracker is told when a paired-photo job starts and ends.
type PairingTracker interface {
	MarkProcessing(ctx context.Context, token string) error
	MarkFinished(ctx context.Context, token string, ok bool) error
}

// Orchestrator runs jobs stage by stage and persists every transition and
// log entry. It is safe for concurrent use; each job runs sequentially.
type Orchestrator struct {
	store      Store
	extractor  Extractor
	parser     RecipeParser
	normalizer IngredientNormalizer
	saver      RecipeSaver
	pairings   PairingTracker
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	running map[uuid.UUID]bool
	cancels map[uuid.UUID]bool
}

type Option func(*Orchestrator)

// WithPairingTracker reports paired-photo progress to t.
func WithPairingTracker(t PairingTracker) Option {
	return func(o *Orchestrator) { o.pairings = t }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func New(
	store Store,
	extractor Extractor,
	p RecipeParser,
	normalizer IngredientNormalizer,
	saver RecipeSaver,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:      store,
		extractor:  extractor,
		parser:     p,
		normalizer: normalizer,
		saver:      saver,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		running:    make(map[uuid.UUID]bool),
		cancels:    make(map[uuid.UUID]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs the job to a terminal stage. It returns ErrJobFailed when the
// job failed, and other errors when the job could not be run or persisted.
// Jobs already terminal are returned as they are.
func (o *Orchestrator) Process(ctx context.Context, jobID uuid.UUID) (entity.IngestionJob, error) {
	o.mu.Lock()
	if o.running[jobID] {
		o.mu.Unlock()
		return entity.IngestionJob{}, fmt.Errorf("job %s is already running: %w", jobID, common.ErrConflict)
	}
	o.running[jobID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, jobID)
		delete(o.cancels, jobID)
		o.mu.Unlock()
	}()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return entity.IngestionJob{}, err
	}
	if job.Stage.IsTerminal() {
		return *job, nil
	}
	src, err := o.store.GetSource(ctx, job.SourceID)
	if err != nil {
		return *job, err
	}
	st := JobState{Job: *job, Source: *src}
	ctx = common.WithJobID(ctx, jobID.String())
	log := common.LoggerFrom(ctx, o.logger).With("source_id", src.ID, "kind", src.Kind)

	if st.Job.Stage != constants.StageCreated {
		// left mid-run by a previous process
		st = o.fail(ctx, st, Fail("interrupted", true))
		return o.finish(ctx, log, st)
	}

	o.markPairing(ctx, log, &st.Source, func(t PairingTracker) error { return t.MarkProcessing(ctx, st.Source.PairToken) })
	if err := o.store.UpdateSourceStatus(ctx, src.ID, constants.SourceProcessing, nil); err != nil {
		log.Warn("pipeline.source.status.failed", "error", err)
	}

	st, err = o.run(ctx, log, st)
	if err != nil {
		return st.Job, err
	}
	return o.finish(ctx, log, st)
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, st JobState) (JobState, error) {
	var err error

	// extracting
	if st, err = o.enter(ctx, st, Transition{To: constants.StageExtracting}); err != nil || st.Job.Stage.IsTerminal() {
		return st, err
	}
	st, res, logs, err := extractStage(ctx, o.extractor, st)
	if err != nil {
		log.Error("pipeline.extract.failed", "error", err)
		reason := "extraction failed: " + err.Error()
		if errors.Is(err, extract.ErrNoContent) {
			reason = ReasonNoContent
		}
		return o.fail(ctx, st, Fail(reason, extract.Retryable(err), errorf(constants.StageExtracting, "%v", err))), nil
	}
	if err := o.store.SetSourceText(ctx, st.Source.ID, res.Text); err != nil {
		return o.stageError(ctx, log, st, err), nil
	}
	st.Source.RawText = res.Text

	// parsing
	if st, err = o.enter(ctx, st, Transition{To: constants.StageParsing, Logs: logs}); err != nil || st.Job.Stage.IsTerminal() {
		return st, err
	}
	st, parsed, logs, err := parseStage(o.parser, st, res)
	if errors.Is(err, errNoRecipes) {
		log.Warn("pipeline.parse.empty", "discarded", len(parsed.Discarded))
		if _, perr := o.persistCandidates(ctx, st, parsed.Discarded, constants.RecipeDiscarded); perr != nil {
			log.Warn("pipeline.parse.persist.failed", "error", perr)
		}
		return o.fail(ctx, st, Fail(ReasonNoContent, false, logs...)), nil
	}
	items, err := o.persistCandidates(ctx, st, parsed.Recipes, constants.RecipePending)
	if err != nil {
		return o.stageError(ctx, log, st, err), nil
	}
	if _, err := o.persistCandidates(ctx, st, parsed.Discarded, constants.RecipeDiscarded); err != nil {
		return o.stageError(ctx, log, st, err), nil
	}

	// normalizing
	if st, err = o.enter(ctx, st, Transition{To: constants.StageNormalizing, Logs: logs}); err != nil || st.Job.Stage.IsTerminal() {
		return st, err
	}
	st, normalized, logs, err := normalizeStage(ctx, o.normalizer, st, items)
	if err != nil {
		return o.stageError(ctx, log, st, err), nil
	}
	for _, n := range normalized {
		if n.Err != nil {
			log.Warn("pipeline.normalize.recipe.failed", "extracted_id", n.Extracted.ID, "error", n.Err)
			o.setExtracted(ctx, log, n.Extracted.ID, constants.RecipeFailed)
		}
	}

	// saving
	if st, err = o.enter(ctx, st, Transition{To: constants.StageSaving, Logs: logs}); err != nil || st.Job.Stage.IsTerminal() {
		return st, err
	}
	st, saved, logs, err := saveStage(ctx, o.saver, st, normalized)
	if err != nil {
		return o.stageError(ctx, log, st, err), nil
	}
	for _, s := range saved {
		o.setExtracted(ctx, log, s.ExtractedID, s.Status)
	}

	logs = append(logs, okf(constants.StageCompleted, "saved %d of %d recipe(s)", st.Job.RecipesSaved, st.Job.RecipesFound))
	return o.apply(ctx, st, Transition{To: constants.StageCompleted, Logs: logs})
}

// enter checks for a cancel request, then applies t. A cancelled job comes
// back failed with a nil error.
func (o *Orchestrator) enter(ctx context.Context, st JobState, t Transition) (JobState, error) {
	if o.cancelRequested(st.Job.ID) {
		o.logger.Info("pipeline.job.cancelled", "job_id", st.Job.ID, "stage", st.Job.Stage)
		return o.fail(ctx, st, Fail(ReasonCancelled, false, append(t.Logs, warnf(st.Job.Stage, "cancelled before %s", t.To))...)), nil
	}
	if err := ctx.Err(); err != nil {
		return o.fail(ctx, st, Fail(err.Error(), true, t.Logs...)), nil
	}
	return o.apply(ctx, st, t)
}

// apply advances the job and persists it with its log entries.
func (o *Orchestrator) apply(ctx context.Context, st JobState, t Transition) (JobState, error) {
	next, err := Advance(st.Job, t, o.now())
	if err != nil {
		return st, err
	}
	if err := o.store.UpdateJob(ctx, &next); err != nil {
		return st, err
	}
	st.Job = next
	for _, l := range t.Logs {
		entry := &entity.ProcessingLog{JobID: next.ID, Stage: l.Stage, Outcome: l.Outcome, Message: l.Message, CreatedAt: o.now()}
		if err := o.store.AppendLog(ctx, entry); err != nil {
			return st, fmt.Errorf("append log: %w", err)
		}
	}
	o.logger.Debug("pipeline.stage", "job_id", next.ID, "stage", next.Stage)
	return st, nil
}

// fail moves the job to failed. Persistence ignores cancellation of ctx so a
// timed-out job is still recorded.
func (o *Orchestrator) fail(ctx context.Context, st JobState, t Transition) JobState {
	ctx = context.WithoutCancel(ctx)
	t.Logs = append(t.Logs, errorf(st.Job.Stage, "job failed: %s", t.Reason))
	next, err := o.apply(ctx, st, t)
	if err != nil {
		o.logger.Error("pipeline.job.fail.persist", "job_id", st.Job.ID, "error", err)
		st.Job.Stage = constants.StageFailed
		st.Job.ErrorReason, st.Job.Retryable = t.Reason, t.Retryable
		return st
	}
	return next
}

// stageError fails the job for an error outside the stage contracts, such as
// a store error or a deadline.
func (o *Orchestrator) stageError(ctx context.Context, log *slog.Logger, st JobState, err error) JobState {
	log.Error("pipeline.stage.failed", "stage", st.Job.Stage, "error", err)
	retryable := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, common.ErrDatabase)
	return o.fail(ctx, st, Fail(fmt.Sprintf("%s failed: %v", st.Job.Stage, err), retryable))
}

func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, st JobState) (entity.IngestionJob, error) {
	ctx = context.WithoutCancel(ctx)
	ok := st.Job.Stage == constants.StageCompleted
	status := constants.SourceProcessed
	if !ok {
		status = constants.SourceFailed
	}
	now := o.now()
	if err := o.store.UpdateSourceStatus(ctx, st.Source.ID, status, &now); err != nil {
		log.Warn("pipeline.source.status.failed", "error", err)
	}
	o.markPairing(ctx, log, &st.Source, func(t PairingTracker) error { return t.MarkFinished(ctx, st.Source.PairToken, ok) })

	if !ok {
		log.Error("pipeline.job.failed", "reason", st.Job.ErrorReason, "retryable", st.Job.Retryable)
		return st.Job, fmt.Errorf("%w: %s", ErrJobFailed, st.Job.ErrorReason)
	}
	log.Info("pipeline.job.completed", "recipes_found", st.Job.RecipesFound, "recipes_saved", st.Job.RecipesSaved)
	return st.Job, nil
}

func (o *Orchestrator) markPairing(ctx context.Context, log *slog.Logger, src *entity.IngestionSource, fn func(PairingTracker) error) {
	if o.pairings == nil || src.PairToken == "" {
		return
	}
	if err := fn(o.pairings); err != nil {
		log.Warn("pipeline.pairing.update.failed", "token", src.PairToken, "error", err)
	}
}

func (o *Orchestrator) persistCandidates(ctx context.Context, st JobState, cands []parser.Candidate, status constants.ExtractedRecipeStatus) ([]entity.ExtractedRecipe, error) {
	out := make([]entity.ExtractedRecipe, 0, len(cands))
	for _, c := range cands {
		rec := entity.ExtractedRecipe{
			JobID:          st.Job.ID,
			RawName:        c.Name,
			RawIngredients: c.Ingredients,
			RawSteps:       c.Steps,
			Metadata:       c.Metadata,
			Confidence:     c.Confidence,
			LowConfidence:  c.LowConfidence || status == constants.RecipeDiscarded,
			Status:         status,
			CreatedAt:      o.now(),
		}
		if err := o.store.CreateExtracted(ctx, &rec); err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (o *Orchestrator) setExtracted(ctx context.Context, log *slog.Logger, id uuid.UUID, status constants.ExtractedRecipeStatus) {
	if err := o.store.SetExtractedStatus(ctx, id, status); err != nil {
		log.Warn("pipeline.extracted.status.failed", "extracted_id", id, "status", status, "error", err)
	}
}

func (o *Orchestrator) cancelRequested(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancels[id]
}

// Cancel asks for the job to stop before its next stage. A job that is not
// running is failed right away.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Stage.IsTerminal() {
		return fmt.Errorf("job %s is already %s: %w", jobID, job.Stage, common.ErrInvalidTransition)
	}
	if o.running[jobID] {
		o.cancels[jobID] = true
		o.logger.Info("pipeline.job.cancel.requested", "job_id", jobID)
		return nil
	}
	src, err := o.store.GetSource(ctx, job.SourceID)
	if err != nil {
		return err
	}
	st := o.fail(ctx, JobState{Job: *job, Source: *src}, Fail(ReasonCancelled, false))
	_, _ = o.finish(ctx, o.logger.With("job_id", jobID), st)
	return nil
}

// Resubmit creates a fresh job for the source of a finished job.
func (o *Orchestrator) Resubmit(ctx context.Context, jobID uuid.UUID) (*entity.IngestionJob, error) {
	old, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !old.Stage.IsTerminal() {
		return nil, fmt.Errorf("job %s is still %s: %w", jobID, old.Stage, common.ErrInvalidTransition)
	}
	job := &entity.IngestionJob{SourceID: old.SourceID, StartedAt: o.now()}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := o.store.UpdateSourceStatus(ctx, old.SourceID, constants.SourcePending, nil); err != nil {
		o.logger.Warn("pipeline.source.status.failed", "source_id", old.SourceID, "error", err)
	}
	o.logger.Info("pipeline.job.resubmitted", "job_id", job.ID, "previous_job_id", jobID)
	return job, nil
}
