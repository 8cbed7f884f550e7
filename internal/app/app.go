// Package app assembles the ingestion pipeline from configuration. The
// daemon and the CLI share it so both run the same components.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/recipe-ingest/internal/async"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/email"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
	"github.com/joseph-ayodele/recipe-ingest/internal/export"
	"github.com/joseph-ayodele/recipe-ingest/internal/extract"
	dropfolder "github.com/joseph-ayodele/recipe-ingest/internal/ingest"
	"github.com/joseph-ayodele/recipe-ingest/internal/normalize"
	"github.com/joseph-ayodele/recipe-ingest/internal/ocr"
	"github.com/joseph-ayodele/recipe-ingest/internal/pairing"
	"github.com/joseph-ayodele/recipe-ingest/internal/parser"
	"github.com/joseph-ayodele/recipe-ingest/internal/pipeline"
	"github.com/joseph-ayodele/recipe-ingest/internal/recipes"
	"github.com/joseph-ayodele/recipe-ingest/internal/repository"
	"github.com/joseph-ayodele/recipe-ingest/internal/scrape"
	ingestsvc "github.com/joseph-ayodele/recipe-ingest/internal/services/ingest"
)

const healthTimeout = 5 * time.Second

// App holds the wired components.
type App struct {
	Config       *common.Config
	Store        repository.Store
	OCR          *ocr.Engine
	Orchestrator *pipeline.Orchestrator
	Queue        *async.ProcessorQueue
	Ingest       *ingestsvc.Service
	Export       *export.Service
	Poller       *email.Poller      // nil without EMAIL_IMAP_ADDR
	Folder       *dropfolder.Folder // nil without WATCH_DIRS

	logger  *slog.Logger
	closers []func() error
}

type Option func(*options)

type options struct {
	dialer email.Dialer
	store  repository.Store
}

// WithDialer replaces the IMAP dialer.
func WithDialer(d email.Dialer) Option { return func(o *options) { o.dialer = d } }

// WithStore uses store instead of opening one from cfg.Database.
func WithStore(s repository.Store) Option { return func(o *options) { o.store = s } }

// New opens the store and builds every component. Close releases them.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg, logger: logger}

	store := o.store
	if store == nil {
		var err error
		if store, err = OpenStore(ctx, cfg.Database, cfg.Cache.MaxEntries, logger); err != nil {
			return nil, err
		}
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	mappings, err := a.mappingStore(ctx, store)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.OCR = ocr.NewEngine(ocr.Config{
		Tesseract:           cfg.OCR.Tesseract,
		TesseractLang:       cfg.OCR.TesseractLang,
		TessdataDir:         cfg.OCR.TessdataDir,
		HeicConverter:       cfg.OCR.HeicConverter,
		EnableTSVConfidence: cfg.OCR.EnableTSVConfidence,
		MaxDimension:        cfg.OCR.MaxDimension,
		PSM:                 cfg.OCR.PSM,
		ArtifactCacheDir:    cfg.OCR.ArtifactCacheDir,
	}, nil, logger)
	var extractOpts []extract.Option
	if cfg.OCR.Timeout > 0 {
		extractOpts = append(extractOpts, extract.WithImageTimeout(cfg.OCR.Timeout))
	}
	// every static attempt plus the browser fallback
	if d := cfg.Scrape.RequestTimeout*time.Duration(cfg.Scrape.MaxRetries+1) + cfg.Scrape.BrowserTimeout; d > 0 {
		extractOpts = append(extractOpts, extract.WithURLTimeout(d))
	}
	extractor := extract.New(a.OCR, scrape.New(cfg.Scrape, nil, logger), logger, extractOpts...)

	normalizer := normalize.New(mappings, logger, normalize.WithCatalog(store))
	correlator := pairing.New(store, nil, logger)
	a.Orchestrator = pipeline.New(
		store,
		extractor,
		parser.New(parser.WithDiscardThreshold(cfg.Pipeline.DiscardThreshold)),
		normalizer,
		recipes.NewDeduper(store, logger),
		logger,
		pipeline.WithPairingTracker(correlator),
	)
	a.Queue = async.NewProcessorQueue(a.Orchestrator, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.JobTimeout),
	)

	svcOpts := []ingestsvc.Option{ingestsvc.WithUploadDir(cfg.Pipeline.UploadDir)}
	if cfg.Email.IMAPAddr != "" || o.dialer != nil {
		p, err := a.poller(ctx, o.dialer)
		if err != nil {
			_ = a.Close(ctx)
			return nil, err
		}
		a.Poller = p
		svcOpts = append(svcOpts, ingestsvc.WithPoller(p))
	}
	a.Ingest = ingestsvc.NewService(store, a.Queue, a.Orchestrator, correlator, logger, svcOpts...)
	a.Export = export.NewService(store, logger)

	if len(cfg.Watch.Dirs) > 0 {
		userID, err := uuid.Parse(strings.TrimSpace(cfg.Watch.UserID))
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("WATCH_USER_ID: %w", errors.Join(common.ErrInvalidInput, err))
		}
		a.Folder = dropfolder.NewFolder(a.Ingest, userID, logger)
	}

	logger.Info("app.ready",
		"driver", cfg.Database.Driver,
		"cache", cfg.Cache.Backend,
		"workers", cfg.Pipeline.Workers,
		"email", a.Poller != nil,
		"watch_dirs", len(cfg.Watch.Dirs),
	)
	return a, nil
}

// OpenStore opens the configured backend and brings its schema up to date.
func OpenStore(ctx context.Context, cfg common.DatabaseConfig, mappingCapacity int, logger *slog.Logger) (repository.Store, error) {
	if cfg.Driver == "memory" {
		return repository.NewMemory(mappingCapacity), nil
	}
	db, err := repository.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := db.HealthCheck(ctx, healthTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (a *App) mappingStore(ctx context.Context, store repository.Store) (normalize.MappingStore, error) {
	if a.Config.Cache.Backend != "redis" {
		return store.Mappings(), nil
	}
	client, err := normalize.NewRedisClient(ctx, a.Config.Cache)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return normalize.NewRedisStore(client, "", a.Config.Cache.TTL, a.logger), nil
}

func (a *App) poller(ctx context.Context, dial email.Dialer) (*email.Poller, error) {
	cfg, err := email.ConfigFrom(a.Config.Email)
	if err != nil {
		return nil, err
	}
	if dial == nil {
		dial = email.IMAPDialer(a.Config.Email, a.logger)
	}
	for _, addr := range a.Config.Email.ApprovedSenders {
		if err := a.Store.UpsertApprovedSender(ctx, &entity.ApprovedSender{
			Email:  strings.ToLower(addr),
			Active: true,
		}); err != nil {
			return nil, fmt.Errorf("seed approved sender %s: %w", addr, err)
		}
	}
	// a.Ingest is assigned after the poller is built
	submit := email.SubmitFunc(func(ctx context.Context, src *entity.IngestionSource) (uuid.UUID, error) {
		return a.Ingest.SubmitSource(ctx, src)
	})
	return email.NewPoller(dial, a.Store, submit, cfg, a.logger), nil
}

// Run polls the mailbox and watches the drop folders until ctx ends.
// It returns immediately when neither is configured.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.Poller != nil {
		g.Go(func() error {
			a.pollLoop(gctx)
			return nil
		})
	}
	if a.Folder != nil {
		g.Go(func() error {
			err := a.Folder.Run(gctx, dropfolder.WatchConfig{
				Roots:       a.Config.Watch.Dirs,
				InitialScan: true,
				Debounce:    a.Config.Watch.Debounce,
				SkipHidden:  true,
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (a *App) pollLoop(ctx context.Context) {
	interval := a.Config.Email.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := a.Poller.RunOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("email.poll.failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Close drains the queue and releases the store and cache.
func (a *App) Close(ctx context.Context) error {
	if a.Queue != nil {
		a.Queue.Shutdown(ctx)
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
