// Package ocr turns recipe photos into text with the tesseract CLI.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/recipe-ingest/constants"
)

// PageFailedMarker stands in for a page whose OCR failed.
const PageFailedMarker = "[OCR extraction failed]"

// ErrUnsupportedImage is returned for files that are not accepted images.
var ErrUnsupportedImage = errors.New("unsupported image format")

type Config struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	TesseractLang string // default "eng"
	TessdataDir   string

	HeicConverter       string
	EnableTSVConfidence bool
	DisablePreprocess   bool
	MaxDimension        int // longest side after downscale; 0 keeps size

	PSM int // 6 assumes a uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	ArtifactCacheDir string
}

type Result struct {
	Text        string
	Pages       int
	FailedPages int
	Language    string
	Duration    time.Duration
	Warnings    []string
	Confidence  float32
}

type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

// NewEngine creates an Engine. A nil runner uses ExecRunner.
func NewEngine(cfg Config, runner Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.PSM <= 0 {
		cfg.PSM = 6
	}
	if cfg.HeicConverter == "" {
		cfg.HeicConverter = "magick"
	}
	return &Engine{cfg: cfg, runner: runner, logger: logger}
}

// Recognize OCRs a single image.
func (e *Engine) Recognize(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	txt, conf, warns, err := e.recognizePage(ctx, path)
	res := Result{
		Text:       txt,
		Pages:      1,
		Language:   e.cfg.TesseractLang,
		Warnings:   warns,
		Confidence: conf,
		Duration:   time.Since(start),
	}
	if err != nil {
		res.FailedPages = 1
	}
	return res, err
}

// RecognizePages OCRs several photos of one source in order. A failing page
// contributes PageFailedMarker; the call only fails when every page fails
// or ctx ends.
func (e *Engine) RecognizePages(ctx context.Context, paths []string) (Result, error) {
	start := time.Now()
	res := Result{Pages: len(paths), Language: e.cfg.TesseractLang}
	if len(paths) == 0 {
		return res, fmt.Errorf("no pages to recognize")
	}

	parts := make([]string, 0, len(paths))
	var confSum float32
	var lastErr error
	for i, p := range paths {
		txt, conf, warns, err := e.recognizePage(ctx, p)
		res.Warnings = append(res.Warnings, warns...)
		if err != nil {
			if ctx.Err() != nil {
				return res, err
			}
			e.logger.Warn("ocr.page.failed", "page", i+1, "path", p, "error", err)
			res.FailedPages++
			lastErr = err
			parts = append(parts, PageFailedMarker)
			continue
		}
		confSum += conf
		parts = append(parts, txt)
	}
	res.Duration = time.Since(start)
	if res.FailedPages == len(paths) {
		return res, lastErr
	}
	res.Text = strings.Join(parts, "\n\n")
	res.Confidence = confSum / float32(len(paths)-res.FailedPages)
	return res, nil
}

func (e *Engine) recognizePage(ctx context.Context, path string) (string, float32, []string, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	if !constants.IsImageExt(ext) {
		return "", 0, nil, fmt.Errorf("%w: %q", ErrUnsupportedImage, ext)
	}
	var warns []string

	if constants.IsHEICExt(ext) {
		out, cleanup, err := convertHEICtoPNG(ctx, e.runner, e.logger, e.cfg.HeicConverter, path, e.cfg.ArtifactCacheDir)
		if err != nil {
			e.logger.Error("ocr.heic.failed", "path", path, "error", err)
			return "", 0, nil, err
		}
		if cleanup != nil {
			defer cleanup()
		}
		path = out
	}

	if !e.cfg.DisablePreprocess {
		pre, err := preprocessFile(path, os.TempDir(), e.cfg.MaxDimension)
		if err != nil {
			// tesseract can still read formats the Go decoders can't
			warns = append(warns, "preprocess skipped: "+err.Error())
			e.logger.Debug("ocr.preprocess.skipped", "path", path, "error", err)
		} else {
			defer os.Remove(pre)
			path = pre
		}
	}

	txt, err := e.tesseract(ctx, path)
	if err != nil {
		return "", 0, warns, err
	}
	txt = Normalize(txt)

	var ocrConf float32
	if e.cfg.EnableTSVConfidence {
		if c, err := e.tesseractTSVConfidence(ctx, path); err == nil {
			ocrConf = c
		} else {
			warns = append(warns, err.Error())
		}
	}
	heurConf := heuristicConfidence(txt)

	// blend: weight OCR higher if present
	conf := heurConf
	if ocrConf > 0 {
		conf = 0.7*ocrConf + 0.3*heurConf
	}
	return txt, min(conf, 1), warns, nil
}

func (e *Engine) baseArgs(path string) []string {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang, "--psm", strconv.Itoa(e.cfg.PSM)}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	return args
}

func (e *Engine) tesseract(ctx context.Context, path string) (string, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.logger, e.baseArgs(path)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("tesseract: %w: %s", err, Truncate(string(errb), 512))
	}
	return string(out), nil
}

// tesseractTSVConfidence runs tesseract in TSV mode and returns mean word conf in 0..1.
func (e *Engine) tesseractTSVConfidence(ctx context.Context, path string) (float32, error) {
	args := append(e.baseArgs(path), "tsv")
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.logger, args...)
	if err != nil {
		return 0, fmt.Errorf("tesseract TSV: %w: %s", err, Truncate(string(errb), 512))
	}
	return meanTSVConfidence(string(out)), nil
}

func meanTSVConfidence(tsv string) float32 {
	var sum, n float64
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue
		} // skip header
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[10]
		if confStr == "" || strings.HasPrefix(confStr, "-1") {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float32(sum / n / 100.0)
}
