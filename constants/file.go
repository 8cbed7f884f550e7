package constants

import "strings"

// ImageExtensions holds the allowed image extensions for image sources.
var ImageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"webp": {},
	"heic": {},
	"heif": {},
}

// TextExtensions are picked up by the drop-folder watcher as text sources.
var TextExtensions = map[string]struct{}{
	"txt": {},
	"md":  {},
}

// imageContentTypes are the MIME types accepted from email attachments.
var imageContentTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/heic": "heic",
	"image/heif": "heif",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsImageExt reports whether ext (with or without dot) is an accepted image.
func IsImageExt(ext string) bool {
	_, ok := ImageExtensions[NormalizeExt(ext)]
	return ok
}

// IsHEICExt reports whether ext needs conversion before OCR.
func IsHEICExt(ext string) bool {
	e := NormalizeExt(ext)
	return e == "heic" || e == "heif"
}

// IsImageContentType reports whether a MIME type is an accepted image.
func IsImageContentType(ct string) bool {
	_, ok := imageContentTypes[strings.ToLower(strings.TrimSpace(ct))]
	return ok
}

// ExtForContentType returns the file extension for an accepted image type.
func ExtForContentType(ct string) string {
	return imageContentTypes[strings.ToLower(strings.TrimSpace(ct))]
}
