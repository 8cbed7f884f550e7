package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/ocr"
	"github.com/joseph-ayodele/recipe-ingest/internal/parser"
	"github.com/joseph-ayodele/recipe-ingest/internal/scrape"
)

const (
	DefaultImageTimeout = 2 * time.Minute
	DefaultURLTimeout   = time.Minute
)

type Extractor struct {
	ocr          Recognizer
	scraper      Scraper
	imageTimeout time.Duration
	urlTimeout   time.Duration
	logger       *slog.Logger
}

type Option func(*Extractor)

func WithImageTimeout(d time.Duration) Option { return func(e *Extractor) { e.imageTimeout = d } }
func WithURLTimeout(d time.Duration) Option   { return func(e *Extractor) { e.urlTimeout = d } }

func New(rec Recognizer, sc Scraper, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		ocr:          rec,
		scraper:      sc,
		imageTimeout: DefaultImageTimeout,
		urlTimeout:   DefaultURLTimeout,
		logger:       logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract produces plain text from src. Errors are *Error.
func (e *Extractor) Extract(ctx context.Context, src Source) (Result, error) {
	start := time.Now()
	var (
		res Result
		err error
	)
	switch s := src.(type) {
	case Image:
		res, err = e.extractImages(ctx, s.Paths)
	case URL:
		res, err = e.extractURL(ctx, s.URL)
	case Text:
		res, err = extractText(s.Body)
	case nil:
		err = newError("extract", ErrUnsupportedFormat, errors.New("nil source"))
	default:
		err = newError("extract", ErrUnsupportedFormat, fmt.Errorf("source type %T", src))
	}
	res.Duration = time.Since(start)
	if err != nil {
		e.logger.Warn("extract.failed", "source", fmt.Sprintf("%T", src), "error", err, "elapsed", res.Duration)
		return res, err
	}
	e.logger.Debug("extract.ok", "method", res.Method, "chars", len(res.Text), "elapsed", res.Duration)
	return res, nil
}

func extractText(body string) (Result, error) {
	txt := strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n"))
	if txt == "" {
		return Result{}, newError("extract.text", ErrExtractionFailed, ErrNoContent)
	}
	return Result{Text: txt, Method: "passthrough", Pages: 1}, nil
}

func checkImage(op, path string) error {
	if !constants.IsImageExt(filepath.Ext(path)) {
		return newError(op, ErrUnsupportedFormat, fmt.Errorf("%q", filepath.Base(path)))
	}
	st, err := os.Stat(path)
	if err != nil {
		return newError(op, ErrExtractionFailed, err)
	}
	if st.IsDir() || st.Size() == 0 {
		return newError(op, ErrUnsupportedFormat, fmt.Errorf("%q is empty", filepath.Base(path)))
	}
	return nil
}

func (e *Extractor) extractImages(ctx context.Context, paths []string) (Result, error) {
	const op = "extract.image"
	if len(paths) == 0 {
		return Result{}, newError(op, ErrUnsupportedFormat, errors.New("no image paths"))
	}
	if e.ocr == nil {
		return Result{}, newError(op, ErrUnsupportedFormat, errors.New("ocr engine not configured"))
	}
	for _, p := range paths {
		if err := checkImage(op, p); err != nil {
			return Result{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.imageTimeout)
	defer cancel()
	r, err := e.ocr.RecognizePages(ctx, paths)
	if err != nil {
		return Result{}, classify(op, err)
	}
	if strings.TrimSpace(r.Text) == "" {
		return Result{}, newError(op, ErrExtractionFailed, ErrNoContent)
	}
	return Result{
		Text:       r.Text,
		Pages:      r.Pages,
		Method:     "image-ocr",
		Warnings:   r.Warnings,
		Confidence: r.Confidence,
	}, nil
}

func (e *Extractor) extractURL(ctx context.Context, u string) (Result, error) {
	const op = "extract.url"
	if e.scraper == nil {
		return Result{}, newError(op, ErrUnsupportedFormat, errors.New("scraper not configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, e.urlTimeout)
	defer cancel()
	page, err := e.scraper.Scrape(ctx, u)
	switch {
	case errors.Is(err, scrape.ErrInvalidURL):
		return Result{}, newError(op, ErrUnsupportedFormat, err)
	case errors.Is(err, scrape.ErrNoContent):
		return Result{}, newError(op, ErrExtractionFailed, fmt.Errorf("%w: %v", ErrNoContent, err))
	case err != nil:
		return Result{}, classify(op, err)
	}
	if strings.TrimSpace(page.Text) == "" {
		return Result{}, newError(op, ErrExtractionFailed, ErrNoContent)
	}
	return Result{Text: page.Text, Title: page.Title, Method: page.Method, Pages: 1}, nil
}

// ExtractPaired OCRs an ingredients photo and a directions photo
// concurrently. Each result is returned as its own stream. A slot that
// fails to OCR is left empty with a warning; the call fails only when both
// slots fail or the deadline passes.
func (e *Extractor) ExtractPaired(ctx context.Context, ingredientsPath, directionsPath string) (Result, error) {
	const op = "extract.paired"
	start := time.Now()
	if e.ocr == nil {
		return Result{}, newError(op, ErrUnsupportedFormat, errors.New("ocr engine not configured"))
	}
	for _, p := range []string{ingredientsPath, directionsPath} {
		if err := checkImage(op, p); err != nil {
			return Result{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.imageTimeout)
	defer cancel()

	type slot struct {
		role parser.Role
		path string
		res  ocr.Result
		err  error
	}
	slots := []*slot{
		{role: parser.RoleIngredients, path: ingredientsPath},
		{role: parser.RoleDirections, path: directionsPath},
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range slots {
		g.Go(func() error {
			s.res, s.err = e.ocr.Recognize(gctx, s.path)
			if s.err != nil && isTimeout(s.err) {
				return s.err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, newError(op, ErrTimeout, err)
	}

	res := Result{Method: "paired-ocr", Pages: 2}
	var failed int
	var confSum float32
	var lastErr error
	for _, s := range slots {
		txt := strings.TrimSpace(s.res.Text)
		if s.err != nil || txt == "" {
			failed++
			reason := "no text"
			if s.err != nil {
				reason = s.err.Error()
				lastErr = s.err
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s photo: %s", s.role, reason))
			e.logger.Warn("extract.paired.slot_failed", "slot", s.role, "path", s.path, "reason", reason)
			txt = ""
		} else {
			confSum += s.res.Confidence
		}
		res.Warnings = append(res.Warnings, s.res.Warnings...)
		res.Streams = append(res.Streams, parser.Stream{Role: s.role, Text: txt})
	}
	res.Duration = time.Since(start)
	if failed == len(slots) {
		if lastErr != nil {
			return res, classify(op, lastErr)
		}
		return res, newError(op, ErrExtractionFailed, ErrNoContent)
	}
	res.Confidence = confSum / float32(len(slots)-failed)
	res.Text = combineStreams(res.Streams)
	return res, nil
}

func combineStreams(streams []parser.Stream) string {
	var b strings.Builder
	for _, s := range streams {
		if s.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		switch s.Role {
		case parser.RoleIngredients:
			b.WriteString("INGREDIENTS:\n")
		case parser.RoleDirections:
			b.WriteString("INSTRUCTIONS:\n")
		}
		b.WriteString(s.Text)
	}
	return b.String()
}
