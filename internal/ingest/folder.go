// Package ingest turns files dropped into watched folders into ingestion
// jobs: images become image sources and .txt/.md files text sources.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
	"github.com/joseph-ayodele/recipe-ingest/internal/entity"
)

// MaxTextBytes bounds the size of a dropped text file.
const MaxTextBytes = 1 << 20

// ErrUnsupportedFile is returned for files the folder does not ingest.
var ErrUnsupportedFile = errors.New("unsupported file type")

// Submitter creates a source and its job and queues the job.
type Submitter interface {
	SubmitSource(ctx context.Context, src *entity.IngestionSource) (uuid.UUID, error)
}

// FileResult is the per-file outcome of an ingest.
type FileResult struct {
	Path         string
	JobID        uuid.UUID
	Deduplicated bool
	HashHex      string
	Err          string
}

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Folder submits files on behalf of one user. Files whose content was
// already submitted are skipped.
type Folder struct {
	submit Submitter
	userID uuid.UUID
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]uuid.UUID // content hash -> job
}

func NewFolder(submit Submitter, userID uuid.UUID, logger *slog.Logger) *Folder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Folder{submit: submit, userID: userID, logger: logger, seen: map[string]uuid.UUID{}}
}

// Accepts reports whether path has an image or text extension.
func Accepts(path string) bool {
	ext := constants.NormalizeExt(filepath.Ext(path))
	if constants.IsImageExt(ext) {
		return true
	}
	_, ok := constants.TextExtensions[ext]
	return ok
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// IngestPath submits the file at path.
func (f *Folder) IngestPath(ctx context.Context, path string) (FileResult, error) {
	out := FileResult{Path: path}
	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	out.Path = abs
	if !Accepts(abs) {
		return out, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(abs))
	}
	if f.userID == uuid.Nil {
		return out, fmt.Errorf("drop folder user id is not configured: %w", common.ErrInvalidInput)
	}

	data, sum, err := readFile(abs)
	if err != nil {
		return out, err
	}
	out.HashHex = sum

	f.mu.Lock()
	if id, ok := f.seen[sum]; ok {
		f.mu.Unlock()
		out.JobID, out.Deduplicated = id, true
		f.logger.Info("ingest.file.duplicate", "path", abs, "job_id", id)
		return out, nil
	}
	f.mu.Unlock()

	name := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	src := &entity.IngestionSource{
		UserID: f.userID,
		Origin: constants.OriginFolder,
		Name:   name,
	}
	if constants.IsImageExt(filepath.Ext(abs)) {
		src.Kind = constants.SourceImage
		src.ImagePaths = []string{abs}
	} else {
		if len(data) > MaxTextBytes {
			return out, fmt.Errorf("text file larger than %d bytes: %w", MaxTextBytes, common.ErrInvalidInput)
		}
		src.Kind = constants.SourceText
		src.RawText = string(data)
	}

	id, err := f.submit.SubmitSource(ctx, src)
	if err != nil {
		return out, err
	}
	f.mu.Lock()
	f.seen[sum] = id
	f.mu.Unlock()
	out.JobID = id
	f.logger.Info("ingest.file.submitted", "path", abs, "job_id", id, "kind", src.Kind)
	return out, nil
}

func readFile(path string) (data []byte, hashHex string, err error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open: %w", err)
	}
	defer fh.Close()
	h := sha256.New()
	// Images are hashed but not kept in memory; the extractor reads them
	// from disk.
	if constants.IsImageExt(filepath.Ext(path)) {
		if _, err := io.Copy(h, fh); err != nil {
			return nil, "", fmt.Errorf("hash: %w", err)
		}
		return nil, hex.EncodeToString(h.Sum(nil)), nil
	}
	data, err = io.ReadAll(io.LimitReader(fh, MaxTextBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read: %w", err)
	}
	h.Write(data)
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// IngestDirectory walks root and submits every accepted file, skipping
// hidden entries when asked. Per-file failures are recorded, not returned.
func (f *Folder) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, fmt.Errorf("root path is required: %w", common.ErrInvalidInput)
	}
	var (
		results []FileResult
		stats   DirStats
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !Accepts(path) {
			return nil
		}
		stats.Matched++

		r, err := f.IngestPath(ctx, path)
		if err != nil {
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			return nil
		}
		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

// Run watches cfg.Roots and submits files as they appear until ctx ends.
func (f *Folder) Run(ctx context.Context, cfg WatchConfig) error {
	events, errs, err := StartWatcher(ctx, cfg, f.logger)
	if err != nil {
		return err
	}
	for {
		select {
		case path, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if _, err := f.IngestPath(ctx, path); err != nil {
				f.logger.Warn("ingest.file.failed", "path", path, "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			f.logger.Warn("ingest.watcher.error", "error", err)
		}
	}
}
