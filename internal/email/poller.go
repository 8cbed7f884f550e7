package email

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

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/repository"
)

// Outcomes recorded on processed messages.
const (
	OutcomeProcessed    = "processed"
	OutcomeUnapproved   = "unapproved_sender"
	OutcomeNotAddressed = "not_addressed"
	OutcomeNoContent    = "no_content"
	OutcomeSubmitFailed = "submit_failed"
)

// Submitter creates a source and its job and queues the job.
type Submitter interface {
	SubmitSource(ctx context.Context, src *entity.IngestionSource) (uuid.UUID, error)
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(ctx context.Context, src *entity.IngestionSource) (uuid.UUID, error)

func (f SubmitFunc) SubmitSource(ctx context.Context, src *entity.IngestionSource) (uuid.UUID, error) {
	return f(ctx, src)
}

// Config controls message acceptance and attachment storage.
type Config struct {
	RecipientAlias string
	UserID         uuid.UUID
	AttachmentDir  string
	Limits         Limits
}

// ConfigFrom maps the email section of the application config.
func ConfigFrom(c common.EmailConfig) (Config, error) {
	cfg := Config{
		RecipientAlias: c.RecipientAlias,
		AttachmentDir:  c.AttachmentDir,
		Limits:         Limits{MaxAttachmentBytes: c.MaxAttachmentBytes, MaxAttachments: c.MaxAttachments},
	}
	if c.DefaultUserID != "" {
		id, err := uuid.Parse(c.DefaultUserID)
		if err != nil {
			return cfg, fmt.Errorf("email default user id %q: %w", c.DefaultUserID, common.ErrInvalidInput)
		}
		cfg.UserID = id
	}
	return cfg, nil
}

// PollStats summarizes one poll cycle.
type PollStats struct {
	Fetched      int `json:"fetched"`
	Processed    int `json:"processed"`
	AlreadySeen  int `json:"already_seen"`
	NotAddressed int `json:"not_addressed"`
	Unapproved   int `json:"unapproved"`
	Attachments  int `json:"attachments"`
	Jobs         int `json:"jobs"`
	Errors       int `json:"errors"`
}

// Poller turns mailbox messages into ingestion jobs.
type Poller struct {
	dial   Dialer
	store  repository.EmailRepository
	submit Submitter
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewPoller(dial Dialer, store repository.EmailRepository, submit Submitter, cfg Config, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Limits = cfg.Limits.withDefaults()
	if cfg.AttachmentDir == "" {
		cfg.AttachmentDir = filepath.Join(os.TempDir(), "recipe-ingest", "email")
	}
	return &Poller{dial: dial, store: store, submit: submit, cfg: cfg, logger: logger, now: time.Now}
}

// RunOnce fetches unseen messages and handles each one. Messages that fail
// with an error stay unseen and are retried on the next cycle.
func (p *Poller) RunOnce(ctx context.Context) (PollStats, error) {
	var stats PollStats
	mb, err := p.dial(ctx)
	if err != nil {
		return stats, fmt.Errorf("open mailbox: %w", err)
	}
	defer func() {
		if err := mb.Close(); err != nil {
			p.logger.Debug("email.mailbox.close_failed", "error", err)
		}
	}()

	msgs, err := mb.FetchUnseen(ctx)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(msgs)

	var seen []uint32
	for _, m := range msgs {
		if ctx.Err() != nil {
			break
		}
		if err := p.handle(ctx, m, &stats); err != nil {
			stats.Errors++
			p.logger.Error("email.message.failed", "uid", m.UID, "error", err)
			continue
		}
		seen = append(seen, m.UID)
	}
	if err := mb.MarkSeen(context.WithoutCancel(ctx), seen...); err != nil {
		p.logger.Warn("email.mark_seen.failed", "count", len(seen), "error", err)
	}
	p.logger.Info("email.poll.completed",
		"fetched", stats.Fetched, "processed", stats.Processed, "jobs", stats.Jobs,
		"unapproved", stats.Unapproved, "errors", stats.Errors)
	return stats, ctx.Err()
}

func (p *Poller) handle(ctx context.Context, m Message, stats *PollStats) error {
	msg, err := Parse(m.Raw, p.cfg.Limits)
	if err != nil {
		return err
	}
	log := p.logger.With("message_id", msg.MessageID, "sender", msg.From)

	done, err := p.store.MessageProcessed(ctx, msg.MessageID)
	if err != nil {
		return err
	}
	if done {
		stats.AlreadySeen++
		log.Debug("email.message.already_processed")
		return nil
	}

	if !msg.AddressedTo(p.cfg.RecipientAlias) {
		stats.NotAddressed++
		log.Info("email.message.not_addressed", "alias", p.cfg.RecipientAlias)
		return p.record(ctx, msg, OutcomeNotAddressed, 0)
	}

	approved, err := p.approved(ctx, msg.From)
	if err != nil {
		return err
	}
	if !approved {
		stats.Unapproved++
		log.Warn("UnapprovedSender", "subject", msg.Subject)
		return p.record(ctx, msg, OutcomeUnapproved, 0)
	}

	jobs, err := p.submitAll(ctx, msg, stats, log)
	outcome := OutcomeProcessed
	switch {
	case err != nil && jobs == 0:
		return err
	case err != nil:
		outcome = OutcomeSubmitFailed
		stats.Errors++
	case jobs == 0:
		outcome = OutcomeNoContent
		log.Info("email.message.no_content")
	}
	stats.Processed++
	stats.Jobs += jobs
	return p.record(ctx, msg, outcome, jobs)
}

func (p *Poller) approved(ctx context.Context, addr string) (bool, error) {
	if addr == "" {
		return false, nil
	}
	s, err := p.store.GetApprovedSender(ctx, addr)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.Active, nil
}

// submitAll saves the message's images and starts its jobs: the first two
// images become one paired source and every later image its own source. A
// message with no images but a text body becomes a text source.
func (p *Poller) submitAll(ctx context.Context, msg *Parsed, stats *PollStats, log *slog.Logger) (int, error) {
	for i := range msg.Skipped {
		part := msg.Skipped[i]
		log.Warn("email.attachment.skipped", "filename", part.Filename, "size", part.Size, "reason", part.SkipReason)
		a := p.attachment(msg, part, -1, "")
		a.Status, a.Error = constants.AttachmentSkipped, part.SkipReason
		if err := p.store.SaveAttachment(ctx, a); err != nil {
			return 0, err
		}
	}

	if len(msg.Images) == 0 {
		if msg.Text == "" {
			return 0, nil
		}
		src := &entity.IngestionSource{
			UserID:  p.cfg.UserID,
			Kind:    constants.SourceText,
			Origin:  constants.OriginEmail,
			Name:    p.recipeName(msg),
			RawText: msg.Text,
		}
		if _, err := p.submit.SubmitSource(ctx, src); err != nil {
			return 0, err
		}
		return 1, nil
	}

	var groups [][]int
	if len(msg.Images) >= 2 {
		groups = append(groups, []int{0, 1})
	}
	for i := len(groups) * 2; i < len(msg.Images); i++ {
		groups = append(groups, []int{i})
	}

	dir := filepath.Join(p.cfg.AttachmentDir, safeName(msg.MessageID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create attachment dir: %w", err)
	}

	var (
		jobs    int
		lastErr error
	)
	for g, idx := range groups {
		atts := make([]*entity.EmailAttachment, 0, len(idx))
		paths := make([]string, 0, len(idx))
		for k, i := range idx {
			part := msg.Images[i]
			slot := constants.PhotoSlot("")
			if len(idx) == 2 {
				slot = []constants.PhotoSlot{constants.SlotIngredients, constants.SlotDirections}[k]
			}
			a := p.attachment(msg, part, g, slot)
			path := filepath.Join(dir, fmt.Sprintf("%02d_%s", i+1, imageFileName(part)))
			if err := os.WriteFile(path, part.Data, 0o644); err != nil {
				return jobs, fmt.Errorf("write attachment %s: %w", part.Filename, err)
			}
			a.Path = path
			atts = append(atts, a)
			paths = append(paths, path)
		}
		stats.Attachments += len(atts)

		name := p.recipeName(msg)
		if len(idx) == 1 && msg.Subject == "" {
			name = strings.TrimSuffix(msg.Images[idx[0]].Filename, filepath.Ext(msg.Images[idx[0]].Filename))
		}
		src := &entity.IngestionSource{
			UserID:     p.cfg.UserID,
			Kind:       constants.SourceImage,
			Origin:     constants.OriginEmail,
			Name:       name,
			ImagePaths: paths,
		}
		jobID, err := p.submit.SubmitSource(ctx, src)
		for _, a := range atts {
			if err != nil {
				a.Status, a.Error = constants.AttachmentFailed, err.Error()
			} else {
				id := jobID
				a.Status, a.JobID = constants.AttachmentQueued, &id
			}
			if serr := p.store.SaveAttachment(ctx, a); serr != nil {
				return jobs, serr
			}
		}
		if err != nil {
			lastErr = err
			log.Error("email.group.submit_failed", "group", g, "error", err)
			continue
		}
		jobs++
		log.Info("email.group.queued", "group", g, "job_id", jobID, "images", len(paths))
	}
	return jobs, lastErr
}

func (p *Poller) attachment(msg *Parsed, part Part, group int, slot constants.PhotoSlot) *entity.EmailAttachment {
	return &entity.EmailAttachment{
		ID:          uuid.New(),
		MessageID:   msg.MessageID,
		Sender:      msg.From,
		Filename:    part.Filename,
		ContentType: part.ContentType,
		Size:        part.Size,
		GroupIndex:  group,
		Slot:        slot,
		Embedded:    part.Embedded,
		Status:      constants.AttachmentPending,
		CreatedAt:   p.now(),
	}
}

func (p *Poller) recipeName(msg *Parsed) string {
	if s := strings.TrimSpace(msg.Subject); s != "" {
		return s
	}
	return "Email Recipe from " + msg.Sender()
}

func (p *Poller) record(ctx context.Context, msg *Parsed, outcome string, jobs int) error {
	rec := &entity.ProcessedEmail{
		MessageID:   msg.MessageID,
		Sender:      msg.From,
		Subject:     msg.Subject,
		Outcome:     outcome,
		Jobs:        jobs,
		ReceivedAt:  msg.Date,
		ProcessedAt: p.now(),
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = rec.ProcessedAt
	}
	err := p.store.RecordProcessedEmail(ctx, rec)
	if errors.Is(err, common.ErrConflict) {
		return nil
	}
	return err
}

// imageFileName makes sure the stored file carries an image extension.
func imageFileName(part Part) string {
	name := safeName(filepath.Base(part.Filename))
	if constants.IsImageExt(filepath.Ext(name)) {
		return name
	}
	ext := constants.ExtForContentType(part.ContentType)
	if ext == "" {
		ext = "jpg"
	}
	return name + "." + ext
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
