// Package scrape fetches recipe web pages and reduces them to plain text.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/ocr"
)

// Extraction methods reported on Page.
const (
	MethodJSONLD  = "json-ld"
	MethodHTML    = "html"
	MethodText    = "text"
	MethodBrowser = "browser"
)

var (
	ErrInvalidURL = errors.New("invalid url")
	ErrNoContent  = errors.New("no content extracted")
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// Temporary reports whether a retry later could succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Page is the text extracted from one URL.
type Page struct {
	URL    string
	Title  string
	Text   string
	Method string
}

type Scraper struct {
	client *resty.Client
	runner ocr.Runner
	cfg    common.ScrapeConfig
	logger *slog.Logger
}

// New builds a Scraper. A nil runner disables the headless browser fallback
// unless cfg.Browser is set, in which case ExecRunner is used.
func New(cfg common.ScrapeConfig, runner ocr.Runner, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil && cfg.Browser != "" {
		runner = ocr.ExecRunner{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.BrowserTimeout <= 0 {
		cfg.BrowserTimeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(max(cfg.MaxRetries, 0)).
		SetRetryWaitTime(cfg.RetryDelay).
		SetRetryMaxWaitTime(max(cfg.RetryDelay*4, time.Second)).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Scraper{client: client, runner: runner, cfg: cfg, logger: logger}
}

// Scrape returns the recipe text of rawURL. Static HTML is tried first;
// when it yields fewer than MinStaticChars the page is rendered with the
// headless browser and parsed again.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Page{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	target := u.String()

	page, staticErr := s.static(ctx, target)
	if staticErr == nil && len(page.Text) >= s.cfg.MinStaticChars {
		return page, nil
	}
	if ctx.Err() != nil {
		return Page{}, ctx.Err()
	}
	if staticErr != nil {
		var se *StatusError
		if errors.As(staticErr, &se) && !se.Temporary() {
			return Page{}, staticErr
		}
		s.logger.Warn("scrape.static.failed", "url", target, "error", staticErr)
	} else {
		s.logger.Info("scrape.static.thin", "url", target, "chars", len(page.Text), "min", s.cfg.MinStaticChars)
	}

	if s.runner == nil || s.cfg.Browser == "" {
		if staticErr != nil {
			return Page{}, staticErr
		}
		if page.Text == "" {
			return Page{}, fmt.Errorf("%w: %s", ErrNoContent, target)
		}
		return page, nil
	}

	rendered, err := s.render(ctx, target)
	switch {
	case err != nil && staticErr != nil:
		return Page{}, fmt.Errorf("static: %v; browser: %w", staticErr, err)
	case err != nil:
		s.logger.Warn("scrape.browser.failed", "url", target, "error", err)
		if page.Text == "" {
			return Page{}, fmt.Errorf("%w: %s", ErrNoContent, target)
		}
		return page, nil
	case len(rendered.Text) > len(page.Text):
		return rendered, nil
	case page.Text == "":
		return Page{}, fmt.Errorf("%w: %s", ErrNoContent, target)
	}
	return page, nil
}

func (s *Scraper) static(ctx context.Context, target string) (Page, error) {
	start := time.Now()
	resp, err := s.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return Page{}, fmt.Errorf("GET %s: %w", target, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return Page{}, &StatusError{URL: target, Code: resp.StatusCode()}
	}
	s.logger.Debug("scrape.static.ok", "url", target, "status", resp.StatusCode(), "bytes", len(resp.Body()), "elapsed", time.Since(start))
	return ParseHTML(target, resp.Body(), resp.Header().Get("Content-Type"))
}

func (s *Scraper) render(ctx context.Context, target string) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BrowserTimeout)
	defer cancel()
	out, errb, err := s.runner.Run(ctx, s.cfg.Browser, s.logger,
		"--headless", "--no-sandbox", "--disable-gpu", "--disable-dev-shm-usage", "--dump-dom", target)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, fmt.Errorf("%s: %w: %s", s.cfg.Browser, err, ocr.Truncate(string(errb), 512))
	}
	page, err := ParseHTML(target, out, "text/html; charset=utf-8")
	page.Method = MethodBrowser
	return page, err
}

// ParseHTML extracts recipe text from an HTML document: JSON-LD Recipe
// objects first, then class-based recipe markup, then visible page text.
func ParseHTML(pageURL string, body []byte, contentType string) (Page, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return Page{}, fmt.Errorf("decode charset: %w", err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	page := Page{URL: pageURL, Title: pageTitle(doc)}
	if recipes := jsonLDRecipes(doc); len(recipes) > 0 {
		parts := make([]string, 0, len(recipes))
		for _, rec := range recipes {
			parts = append(parts, rec.format())
		}
		page.Text = strings.Join(parts, "\n\n---\n\n")
		page.Method = MethodJSONLD
		if page.Title == "" {
			page.Title = recipes[0].Name
		}
		return page, nil
	}
	if txt := htmlRecipe(doc); txt != "" {
		page.Text = txt
		page.Method = MethodHTML
		return page, nil
	}
	page.Text = bodyText(doc)
	page.Method = MethodText
	return page, nil
}
