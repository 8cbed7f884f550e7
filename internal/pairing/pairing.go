// Package pairing correlates an ingredients photo and a directions photo
// uploaded separately under one token, and starts exactly one ingestion job
// once both are present.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/repository"
)

var (
	ErrUnknownToken = errors.New("unknown pairing token")
	ErrInvalidSlot  = errors.New("invalid photo slot")
	ErrMissingPhoto = errors.New("photo path is required")
)

// TriggerFunc creates and enqueues the job for a pairing whose two slots are
// filled, returning the job ID. It runs under the token's lock, so it must
// not wait for the job to be processed.
type TriggerFunc func(ctx context.Context, p entity.PairedPhotoSource) (uuid.UUID, error)

// Correlator tracks pairings and fires the trigger at most once per token.
type Correlator struct {
	store   repository.PairingRepository
	trigger TriggerFunc
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*tokenLock
}

type tokenLock struct {
	sync.Mutex
	refs int
}

type Option func(*Correlator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) {
		if now != nil {
			c.now = now
		}
	}
}

func New(store repository.PairingRepository, trigger TriggerFunc, logger *slog.Logger, opts ...Option) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Correlator{
		store:   store,
		trigger: trigger,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		locks:   make(map[string]*tokenLock),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetTrigger installs the trigger after construction, for wiring cycles
// between the correlator and the service that owns the job queue.
func (c *Correlator) SetTrigger(t TriggerFunc) {
	c.mu.Lock()
	c.trigger = t
	c.mu.Unlock()
}

func (c *Correlator) lock(token string) func() {
	c.mu.Lock()
	l, ok := c.locks[token]
	if !ok {
		l = &tokenLock{}
		c.locks[token] = l
	}
	l.refs++
	c.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, token)
		}
		c.mu.Unlock()
	}
}

// Issue creates a pending pairing for user and returns its token.
func (c *Correlator) Issue(ctx context.Context, userID uuid.UUID, recipeName string) (string, constants.PairingStatus, error) {
	if userID == uuid.Nil {
		return "", "", fmt.Errorf("user id is required: %w", common.ErrInvalidInput)
	}
	p := &entity.PairedPhotoSource{
		Token:      uuid.NewString(),
		UserID:     userID,
		RecipeName: strings.TrimSpace(recipeName),
		Status:     constants.PairingPending,
		CreatedAt:  c.now(),
	}
	if err := c.store.CreatePairing(ctx, p); err != nil {
		c.logger.Error("pairing.issue.failed", "user_id", userID, "error", err)
		return "", "", err
	}
	c.logger.Info("pairing.issued", "token", p.Token, "user_id", userID)
	return p.Token, p.Status, nil
}

// Upload stores photo in slot. Writing a slot again replaces its photo.
// Once the pairing has triggered, uploads are ignored and the current
// status is returned.
func (c *Correlator) Upload(ctx context.Context, token, slot string, photo entity.PhotoRef) (constants.PairingStatus, error) {
	s, ok := constants.ParseSlot(strings.ToLower(strings.TrimSpace(slot)))
	if !ok {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidSlot, slot, common.ErrInvalidInput)
	}
	if strings.TrimSpace(photo.Path) == "" {
		return "", fmt.Errorf("%w: %w", ErrMissingPhoto, common.ErrInvalidInput)
	}

	unlock := c.lock(token)
	defer unlock()

	p, err := c.get(ctx, token)
	if err != nil {
		return "", err
	}
	if p.Status.Triggered() {
		c.logger.Info("pairing.upload.ignored", "token", token, "slot", s, "status", p.Status)
		return p.Status, nil
	}

	if photo.UploadedAt.IsZero() {
		photo.UploadedAt = c.now()
	}
	ref := &photo
	switch s {
	case constants.SlotIngredients:
		if p.Ingredients != nil {
			c.logger.Info("pairing.slot.replaced", "token", token, "slot", s, "previous", p.Ingredients.Path)
		}
		p.Ingredients = ref
	case constants.SlotDirections:
		if p.Directions != nil {
			c.logger.Info("pairing.slot.replaced", "token", token, "slot", s, "previous", p.Directions.Path)
		}
		p.Directions = ref
	}
	p.Status = slotStatus(p)
	p.UpdatedAt = c.now()
	if err := c.store.UpdatePairing(ctx, p); err != nil {
		return "", err
	}
	c.logger.Info("pairing.uploaded", "token", token, "slot", s, "status", p.Status)

	if p.Status == constants.PairingBothUploaded {
		if err := c.fire(ctx, p); err != nil {
			return p.Status, err
		}
	}
	return p.Status, nil
}

func slotStatus(p *entity.PairedPhotoSource) constants.PairingStatus {
	switch {
	case p.Complete():
		return constants.PairingBothUploaded
	case p.Ingredients != nil:
		return constants.PairingIngredientsUploaded
	case p.Directions != nil:
		return constants.PairingDirectionsUploaded
	}
	return constants.PairingPending
}

// fire runs the trigger for a pairing that just became complete. The caller
// holds the token lock.
func (c *Correlator) fire(ctx context.Context, p *entity.PairedPhotoSource) error {
	c.mu.Lock()
	trigger := c.trigger
	c.mu.Unlock()
	if trigger == nil {
		return errors.New("pairing: no trigger configured")
	}

	jobID, err := trigger(ctx, *p)
	if err != nil {
		c.logger.Error("pairing.trigger.failed", "token", p.Token, "error", err)
		p.Status = constants.PairingFailed
		p.UpdatedAt = c.now()
		if uerr := c.store.UpdatePairing(ctx, p); uerr != nil {
			c.logger.Error("pairing.update.failed", "token", p.Token, "error", uerr)
		}
		return err
	}
	p.JobID = &jobID
	p.UpdatedAt = c.now()
	if err := c.store.UpdatePairing(ctx, p); err != nil {
		return err
	}
	c.logger.Info("pairing.triggered", "token", p.Token, "job_id", jobID)
	return nil
}

// MarkProcessing records that the job for token has started.
func (c *Correlator) MarkProcessing(ctx context.Context, token string) error {
	return c.transition(ctx, token, constants.PairingProcessing)
}

// MarkFinished records the outcome of the job for token.
func (c *Correlator) MarkFinished(ctx context.Context, token string, ok bool) error {
	status := constants.PairingCompleted
	if !ok {
		status = constants.PairingFailed
	}
	return c.transition(ctx, token, status)
}

func (c *Correlator) transition(ctx context.Context, token string, to constants.PairingStatus) error {
	unlock := c.lock(token)
	defer unlock()

	p, err := c.get(ctx, token)
	if err != nil {
		return err
	}
	if !p.Status.Triggered() {
		return fmt.Errorf("pairing %s is %s, cannot move to %s: %w", token, p.Status, to, common.ErrInvalidTransition)
	}
	if p.Status == constants.PairingCompleted || p.Status == constants.PairingFailed {
		return nil
	}
	p.Status = to
	p.UpdatedAt = c.now()
	if err := c.store.UpdatePairing(ctx, p); err != nil {
		return err
	}
	c.logger.Info("pairing.status", "token", token, "status", to)
	return nil
}

// Get returns the pairing stored under token.
func (c *Correlator) Get(ctx context.Context, token string) (*entity.PairedPhotoSource, error) {
	return c.get(ctx, token)
}

func (c *Correlator) get(ctx context.Context, token string) (*entity.PairedPhotoSource, error) {
	p, err := c.store.GetPairing(ctx, token)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w %s: %w", ErrUnknownToken, token, common.ErrNotFound)
	}
	return p, err
}
