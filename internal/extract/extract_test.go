package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/recipe-ingest/internal/ocr"
	"github.com/joseph-ayodele/recipe-ingest/internal/parser"
	"github.com/joseph-ayodele/recipe-ingest/internal/scrape"
)

type fakeOCR struct {
	texts map[string]string
	errs  map[string]error
	delay time.Duration
}

func (f *fakeOCR) Recognize(ctx context.Context, path string) (ocr.Result, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ocr.Result{}, ctx.Err()
		}
	}
	name := filepath.Base(path)
	if err := f.errs[name]; err != nil {
		return ocr.Result{}, err
	}
	return ocr.Result{Text: f.texts[name], Pages: 1, Confidence: 0.8}, nil
}

func (f *fakeOCR) RecognizePages(ctx context.Context, paths []string) (ocr.Result, error) {
	var out ocr.Result
	for _, p := range paths {
		r, err := f.Recognize(ctx, p)
		if err != nil {
			return out, err
		}
		if out.Text != "" {
			out.Text += "\n\n"
		}
		out.Text += r.Text
		out.Pages++
	}
	return out, nil
}

type fakeScraper struct {
	page scrape.Page
	err  error
}

func (f fakeScraper) Scrape(context.Context, string) (scrape.Page, error) { return f.page, f.err }

func photo(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("jpeg"), 0o644))
	return p
}

func TestExtract_Text(t *testing.T) {
	e := New(nil, nil, nil)
	res, err := e.Extract(context.Background(), Text{Body: "  Pancakes\r\n2 eggs \n"})
	require.NoError(t, err)
	assert.Equal(t, "Pancakes\n2 eggs", res.Text)

	_, err = e.Extract(context.Background(), Text{Body: " \n\t"})
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.ErrorIs(t, err, ErrNoContent)
	assert.False(t, Retryable(err))
}

func TestExtract_Images(t *testing.T) {
	dir := t.TempDir()
	a, b := photo(t, dir, "p1.jpg"), photo(t, dir, "p2.HEIC")
	e := New(&fakeOCR{texts: map[string]string{"p1.jpg": "Pancakes", "p2.HEIC": "2 eggs"}}, nil, nil)

	res, err := e.Extract(context.Background(), Image{Paths: []string{a, b}})
	require.NoError(t, err)
	assert.Equal(t, "Pancakes\n\n2 eggs", res.Text)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, "image-ocr", res.Method)
}

func TestExtract_ImageErrors(t *testing.T) {
	dir := t.TempDir()
	pdf := photo(t, dir, "scan.pdf")
	good := photo(t, dir, "ok.png")
	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	cases := []struct {
		name      string
		ocr       *fakeOCR
		paths     []string
		kind      error
		retryable bool
	}{
		{"unsupported extension", &fakeOCR{}, []string{pdf}, ErrUnsupportedFormat, false},
		{"missing file", &fakeOCR{}, []string{filepath.Join(dir, "gone.jpg")}, ErrExtractionFailed, true},
		{"empty file", &fakeOCR{}, []string{empty}, ErrUnsupportedFormat, false},
		{"no paths", &fakeOCR{}, nil, ErrUnsupportedFormat, false},
		{"ocr failure", &fakeOCR{errs: map[string]error{"ok.png": errors.New("tesseract: exit 1")}}, []string{good}, ErrExtractionFailed, true},
		{"blank ocr", &fakeOCR{texts: map[string]string{"ok.png": "  "}}, []string{good}, ErrNoContent, false},
		{"deadline", &fakeOCR{errs: map[string]error{"ok.png": fmt.Errorf("tesseract: %w", context.DeadlineExceeded)}}, []string{good}, ErrTimeout, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.ocr, nil, nil).Extract(context.Background(), Image{Paths: tc.paths})
			require.Error(t, err)
			var ee *Error
			require.ErrorAs(t, err, &ee)
			assert.ErrorIs(t, err, tc.kind)
			assert.Equal(t, tc.retryable, Retryable(err))
		})
	}
}

func TestExtract_ImageTimeout(t *testing.T) {
	dir := t.TempDir()
	p := photo(t, dir, "slow.jpg")
	e := New(&fakeOCR{delay: time.Second}, nil, nil, WithImageTimeout(20*time.Millisecond))
	_, err := e.Extract(context.Background(), Image{Paths: []string{p}})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, Retryable(err))
}

func TestExtract_URL(t *testing.T) {
	e := New(nil, fakeScraper{page: scrape.Page{Text: "Soup\nINGREDIENTS:\n• 1 can tomatoes", Title: "Soup | Site", Method: scrape.MethodHTML}}, nil)
	res, err := e.Extract(context.Background(), URL{URL: "https://site.example/soup"})
	require.NoError(t, err)
	assert.Equal(t, "Soup | Site", res.Title)
	assert.Equal(t, scrape.MethodHTML, res.Method)

	cases := []struct {
		err  error
		kind error
	}{
		{fmt.Errorf("%w: %q", scrape.ErrInvalidURL, "ftp://x"), ErrUnsupportedFormat},
		{fmt.Errorf("%w: x", scrape.ErrNoContent), ErrNoContent},
		{&scrape.StatusError{URL: "https://x", Code: 503}, ErrExtractionFailed},
		{context.DeadlineExceeded, ErrTimeout},
	}
	for _, tc := range cases {
		_, err := New(nil, fakeScraper{err: tc.err}, nil).Extract(context.Background(), URL{URL: "https://x"})
		assert.ErrorIs(t, err, tc.kind, tc.err.Error())
	}
}

func TestExtract_NilSource(t *testing.T) {
	_, err := New(nil, nil, nil).Extract(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractPaired(t *testing.T) {
	dir := t.TempDir()
	ing, dirs := photo(t, dir, "ing.jpg"), photo(t, dir, "dir.jpg")
	e := New(&fakeOCR{texts: map[string]string{
		"ing.jpg": "2 cups flour\n1 egg",
		"dir.jpg": "Mix everything.\nBake for 20 minutes.",
	}}, nil, nil)

	res, err := e.ExtractPaired(context.Background(), ing, dirs)
	require.NoError(t, err)
	require.Len(t, res.Streams, 2)
	assert.Equal(t, parser.Stream{Role: parser.RoleIngredients, Text: "2 cups flour\n1 egg"}, res.Streams[0])
	assert.Equal(t, parser.RoleDirections, res.Streams[1].Role)
	assert.Equal(t, "INGREDIENTS:\n2 cups flour\n1 egg\n\nINSTRUCTIONS:\nMix everything.\nBake for 20 minutes.", res.Text)
	assert.InDelta(t, 0.8, res.Confidence, 0.001)
}

func TestExtractPaired_OneSlotFails(t *testing.T) {
	dir := t.TempDir()
	ing, dirs := photo(t, dir, "ing.jpg"), photo(t, dir, "dir.jpg")
	e := New(&fakeOCR{
		texts: map[string]string{"ing.jpg": "2 cups flour"},
		errs:  map[string]error{"dir.jpg": errors.New("blurry")},
	}, nil, nil)

	res, err := e.ExtractPaired(context.Background(), ing, dirs)
	require.NoError(t, err)
	assert.Equal(t, "", res.Streams[1].Text)
	assert.Equal(t, "INGREDIENTS:\n2 cups flour", res.Text)
	assert.NotEmpty(t, res.Warnings)
}

func TestExtractPaired_BothFail(t *testing.T) {
	dir := t.TempDir()
	ing, dirs := photo(t, dir, "ing.jpg"), photo(t, dir, "dir.jpg")
	e := New(&fakeOCR{errs: map[string]error{
		"ing.jpg": errors.New("blurry"),
		"dir.jpg": errors.New("blurry"),
	}}, nil, nil)
	_, err := e.ExtractPaired(context.Background(), ing, dirs)
	assert.ErrorIs(t, err, ErrExtractionFailed)
}
