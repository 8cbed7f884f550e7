package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// hashFile returns the hex-encoded SHA256 of a file's contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// convertHEICtoPNG converts a HEIC/HEIF photo to PNG with the configured
// converter ("heif-convert", "magick" or "sips"). With a cacheDir the PNG
// is kept at {cacheDir}/{sha256}.png and reused on later calls, and the
// returned cleanup is nil.
func convertHEICtoPNG(ctx context.Context, r Runner, logger *slog.Logger, converter, in, cacheDir string) (string, func(), error) {
	var cached string
	if cacheDir != "" {
		sum, err := hashFile(in)
		if err != nil {
			return "", nil, fmt.Errorf("hash %s: %w", in, err)
		}
		cached = filepath.Join(cacheDir, sum+".png")
		if st, err := os.Stat(cached); err == nil && !st.IsDir() {
			logger.Debug("ocr.heic.cache_hit", "cache", cached)
			return cached, nil, nil
		}
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return "", nil, err
		}
	}

	tmpDir, err := os.MkdirTemp("", "ri-heic-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }
	out := filepath.Join(tmpDir, "page.png")

	var args []string
	switch converter {
	case "heif-convert", "magick":
		args = []string{in, out}
	case "sips":
		args = []string{"-s", "format", "png", in, "--out", out}
	default:
		cleanup()
		return "", nil, fmt.Errorf("HEIC not supported: set HEIC_CONVERTER to one of: heif-convert | magick | sips")
	}
	if _, errb, err := r.Run(ctx, converter, logger, args...); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%s failed: %w: %s", converter, err, Truncate(string(errb), 512))
	}
	if _, err := os.Stat(out); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("HEIC conversion produced no output: %w", err)
	}

	if cached == "" {
		return out, cleanup, nil
	}
	if err := os.Rename(out, cached); err != nil {
		// another worker may have written it first
		if st, statErr := os.Stat(cached); statErr == nil && !st.IsDir() {
			cleanup()
			return cached, nil, nil
		}
		if err := copyFile(out, cached); err != nil {
			cleanup()
			return "", nil, err
		}
	}
	cleanup()
	logger.Debug("ocr.heic.cached", "cache", cached)
	return cached, nil, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
