// Package ingest is the entry point for outside callers: it validates
// requests, creates sources and jobs, and hands jobs to the worker queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/async"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/email"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/pairing"
	"github.com/joseph-ayodele/recipe-ingest/internal/pipeline"
	"github.com/joseph-ayodele/recipe-ingest/internal/repository"
)

// Store is the persistence the service reads and writes directly.
type Store interface {
	repository.SourceRepository
	repository.JobRepository
}

// JobControl cancels and resubmits jobs.
type JobControl interface {
	Cancel(ctx context.Context, jobID uuid.UUID) error
	Resubmit(ctx context.Context, jobID uuid.UUID) (*entity.IngestionJob, error)
}

// Poller runs one mailbox poll cycle.
type Poller interface {
	RunOnce(ctx context.Context) (email.PollStats, error)
}

// Service handles ingestion requests.
type Service struct {
	store     Store
	queue     async.Queue
	jobs      JobControl
	pairs     *pairing.Correlator
	poller    Poller
	uploadDir string
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithPoller enables Poll.
func WithPoller(p Poller) Option {
	return func(s *Service) { s.poller = p }
}

// WithUploadDir sets where uploaded pairing photos are written.
func WithUploadDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.uploadDir = dir
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the service and installs itself as the correlator's
// trigger, so a completed pairing becomes a queued job.
func NewService(store Store, queue async.Queue, jobs JobControl, pairs *pairing.Correlator, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     store,
		queue:     queue,
		jobs:      jobs,
		pairs:     pairs,
		uploadDir: filepath.Join(os.TempDir(), "recipe-ingest", "uploads"),
		logger:    logger,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if pairs != nil {
		pairs.SetTrigger(s.startPaired)
	}
	return s
}

// SubmitRequest describes one piece of raw input. Payload is the URL, the
// text, or the image path depending on Kind.
type SubmitRequest struct {
	Kind       string
	Payload    string
	UserID     string
	SourceName string
	Origin     string
}

// JobStatus is the externally visible state of a job.
type JobStatus struct {
	JobID        uuid.UUID              `json:"job_id"`
	SourceID     uuid.UUID              `json:"source_id"`
	Stage        constants.JobStage     `json:"stage"`
	RecipesFound int                    `json:"recipes_found"`
	RecipesSaved int                    `json:"recipes_saved"`
	ErrorReason  string                 `json:"error_reason,omitempty"`
	Retryable    bool                   `json:"retryable"`
	Logs         []entity.ProcessingLog `json:"logs,omitempty"`
}

// Submit validates req, stores its source and a fresh job, and queues the
// job.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	src, err := s.sourceFromRequest(req)
	if err != nil {
		s.logger.Warn("submit rejected", "kind", req.Kind, "error", err)
		return uuid.Nil, toStatus(err)
	}
	id, err := s.SubmitSource(ctx, src)
	return id, toStatus(err)
}

func (s *Service) sourceFromRequest(req SubmitRequest) (*entity.IngestionSource, error) {
	v := common.NewValidator().
		Field("user_id", req.UserID, common.Required, common.UUID).
		Field("payload", req.Payload, common.Required).
		Field("source_name", req.SourceName, common.MaxLength(200))
	kind, ok := constants.ParseSourceKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if !ok {
		v.Field("kind", req.Kind, common.OneOf(constants.SourceKinds...))
	}
	origin := constants.SourceOrigin(strings.ToLower(strings.TrimSpace(req.Origin)))
	if origin == "" {
		origin = constants.OriginAPI
	}
	v.Field("origin", string(origin), common.OneOf(constants.SourceOrigins...))
	payload := strings.TrimSpace(req.Payload)
	if kind == constants.SourceURL {
		v.Field("payload", payload, common.HTTPURL)
	}
	if err := v.Error(); err != nil {
		return nil, err
	}

	src := &entity.IngestionSource{
		UserID: uuid.MustParse(strings.TrimSpace(req.UserID)),
		Kind:   kind,
		Origin: origin,
		Name:   strings.TrimSpace(req.SourceName),
	}
	switch kind {
	case constants.SourceURL:
		src.URL = payload
	case constants.SourceText:
		src.RawText = req.Payload
	case constants.SourceImage:
		if !constants.IsImageExt(filepath.Ext(payload)) {
			return nil, fmt.Errorf("payload %q is not a supported image: %w", payload, common.ErrInvalidInput)
		}
		if _, err := os.Stat(payload); err != nil {
			return nil, fmt.Errorf("image %q: %w", payload, common.ErrInvalidInput)
		}
		src.ImagePaths = []string{payload}
		if src.Name == "" {
			src.Name = strings.TrimSuffix(filepath.Base(payload), filepath.Ext(payload))
		}
	}
	return src, nil
}

// SubmitSource stores src and a fresh job for it and queues the job. Used by
// the email poller and the drop-folder watcher, which build sources
// themselves.
func (s *Service) SubmitSource(ctx context.Context, src *entity.IngestionSource) (uuid.UUID, error) {
	if src.UserID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("source user id is required: %w", common.ErrInvalidInput)
	}
	src.Status = constants.SourcePending
	if src.CreatedAt.IsZero() {
		src.CreatedAt = s.now()
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		return uuid.Nil, err
	}
	job := &entity.IngestionJob{SourceID: src.ID, StartedAt: s.now()}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return uuid.Nil, err
	}
	if err := s.enqueue(ctx, job); err != nil {
		return job.ID, err
	}
	s.logger.Info("job submitted", "job_id", job.ID, "source_id", src.ID, "kind", src.Kind, "origin", src.Origin)
	return job.ID, nil
}

// enqueue queues job, failing it as retryable when the queue refuses.
func (s *Service) enqueue(ctx context.Context, job *entity.IngestionJob) error {
	err := s.queue.Enqueue(ctx, async.Job{
		JobID:       job.ID,
		SubmittedAt: s.now(),
		TraceID:     common.RequestIDFromContext(ctx),
	})
	if err == nil {
		return nil
	}
	s.logger.Error("enqueue failed", "job_id", job.ID, "error", err)
	failed, aerr := pipeline.Advance(*job, pipeline.Fail("enqueue failed: "+err.Error(), true), s.now())
	if aerr == nil {
		if uerr := s.store.UpdateJob(context.WithoutCancel(ctx), &failed); uerr != nil {
			s.logger.Error("job update failed", "job_id", job.ID, "error", uerr)
		}
	}
	return fmt.Errorf("enqueue job %s: %w", job.ID, err)
}

// Status reports the stage and counters of a job along with its log.
func (s *Service) Status(ctx context.Context, jobID string) (JobStatus, error) {
	id, err := parseID("job_id", jobID)
	if err != nil {
		return JobStatus{}, toStatus(err)
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return JobStatus{}, toStatus(err)
	}
	logs, err := s.store.ListLogs(ctx, id)
	if err != nil {
		return JobStatus{}, toStatus(err)
	}
	return JobStatus{
		JobID:        job.ID,
		SourceID:     job.SourceID,
		Stage:        job.Stage,
		RecipesFound: job.RecipesFound,
		RecipesSaved: job.RecipesSaved,
		ErrorReason:  job.ErrorReason,
		Retryable:    job.Retryable,
		Logs:         logs,
	}, nil
}

// IssuePairingToken opens a pairing for an ingredients photo and a
// directions photo uploaded separately.
func (s *Service) IssuePairingToken(ctx context.Context, userID, recipeName string) (string, constants.PairingStatus, error) {
	id, err := parseID("user_id", userID)
	if err != nil {
		return "", "", toStatus(err)
	}
	token, st, err := s.pairs.Issue(ctx, id, strings.TrimSpace(recipeName))
	return token, st, toStatus(err)
}

// UploadPairedPhoto stores image for one slot of a pairing. slot is
// "ingredients" or "directions"; filename only supplies the extension.
func (s *Service) UploadPairedPhoto(ctx context.Context, token, slot, filename string, image []byte) (constants.PairingStatus, error) {
	ps, ok := constants.ParseSlot(strings.ToLower(strings.TrimSpace(slot)))
	if !ok {
		return "", toStatus(fmt.Errorf("%w %q: %w", pairing.ErrInvalidSlot, slot, common.ErrInvalidInput))
	}
	if len(image) == 0 {
		return "", status.Error(codes.InvalidArgument, "image is required")
	}
	p, err := s.pairs.Get(ctx, token)
	if err != nil {
		return "", toStatus(err)
	}
	if p.Status.Triggered() {
		return p.Status, nil
	}

	path, ct, err := saveUpload(filepath.Join(s.uploadDir, safeToken(token)), string(ps), filename, image)
	if err != nil {
		s.logger.Error("pairing upload write failed", "token", token, "slot", ps, "error", err)
		return "", toStatus(err)
	}
	st, err := s.pairs.Upload(ctx, token, string(ps), entity.PhotoRef{Path: path, ContentType: ct, UploadedAt: s.now()})
	if err != nil {
		_ = os.Remove(path)
		return st, toStatus(err)
	}
	if st.Triggered() && !s.referenced(ctx, token, path) {
		// another upload completed the pairing first
		_ = os.Remove(path)
	}
	return st, nil
}

func (s *Service) referenced(ctx context.Context, token, path string) bool {
	p, err := s.pairs.Get(ctx, token)
	if err != nil {
		return true
	}
	return (p.Ingredients != nil && p.Ingredients.Path == path) ||
		(p.Directions != nil && p.Directions.Path == path)
}

// startPaired is the correlator trigger. It runs under the pairing lock and
// only queues the job.
func (s *Service) startPaired(ctx context.Context, p entity.PairedPhotoSource) (uuid.UUID, error) {
	if !p.Complete() {
		return uuid.Nil, pairing.ErrMissingPhoto
	}
	src := &entity.IngestionSource{
		UserID:     p.UserID,
		Kind:       constants.SourceImage,
		Origin:     constants.OriginPaired,
		Name:       p.RecipeName,
		ImagePaths: []string{p.Ingredients.Path, p.Directions.Path},
		PairToken:  p.Token,
	}
	return s.SubmitSource(ctx, src)
}

// Poll runs one mailbox cycle.
func (s *Service) Poll(ctx context.Context) (email.PollStats, error) {
	if s.poller == nil {
		return email.PollStats{}, common.FailedPreconditionError("email polling is not configured")
	}
	stats, err := s.poller.RunOnce(ctx)
	if err != nil {
		s.logger.Error("email poll failed", "error", err)
	}
	return stats, toStatus(err)
}

// Resubmit starts a fresh job for the source of a finished job and returns
// its ID.
func (s *Service) Resubmit(ctx context.Context, jobID string) (uuid.UUID, error) {
	id, err := parseID("job_id", jobID)
	if err != nil {
		return uuid.Nil, toStatus(err)
	}
	job, err := s.jobs.Resubmit(ctx, id)
	if err != nil {
		return uuid.Nil, toStatus(err)
	}
	if err := s.enqueue(ctx, job); err != nil {
		return job.ID, toStatus(err)
	}
	return job.ID, nil
}

// Cancel stops a job before its next stage.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	id, err := parseID("job_id", jobID)
	if err != nil {
		return toStatus(err)
	}
	return toStatus(s.jobs.Cancel(ctx, id))
}

func parseID(field, raw string) (uuid.UUID, error) {
	v := common.NewValidator().Field(field, raw, common.Required, common.UUID)
	if err := v.Error(); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(strings.TrimSpace(raw)), nil
}

// toStatus maps service errors onto gRPC status errors.
func toStatus(err error) error {
	if errors.Is(err, async.ErrQueueClosed) {
		return status.Error(codes.Unavailable, err.Error())
	}
	return common.ToStatus(err)
}
