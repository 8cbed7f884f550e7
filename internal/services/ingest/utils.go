package ingest

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	"github.com/joseph-ayodele/recipe-ingest/internal/common"
)

// saveUpload writes data to a new file dir/name-<random>.<ext>, so a stored
// path always refers to the bytes of one upload. The extension comes from
// filename when it names an image, otherwise from the sniffed content type.
func saveUpload(dir, name, filename string, data []byte) (path, contentType string, err error) {
	ext := constants.NormalizeExt(filepath.Ext(filename))
	sniffed := http.DetectContentType(data)
	switch {
	case constants.IsImageExt(ext):
		contentType = mime.TypeByExtension("." + ext)
		if contentType == "" {
			contentType = "image/" + ext
		}
	case constants.IsImageContentType(sniffed):
		ext, contentType = constants.ExtForContentType(sniffed), sniffed
	default:
		return "", "", fmt.Errorf("upload %q is not a supported image (%s): %w", filename, sniffed, common.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create upload dir: %w", err)
	}
	path = filepath.Join(dir, name+"-"+uuid.NewString()+"."+ext)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", "", fmt.Errorf("create upload: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", "", fmt.Errorf("write upload: %w", err)
	}
	return path, contentType, nil
}

// safeToken keeps a pairing token usable as a directory name.
func safeToken(token string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return r
		}
		return '_'
	}, token)
}
