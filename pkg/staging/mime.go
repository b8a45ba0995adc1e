package staging

import (
	"path/filepath"
	"strings"
)

var mimeTypes = map[string]string{
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"png":   "image/png",
	"gif":   "image/gif",
	"bmp":   "image/bmp",
	"webp":  "image/webp",
	"jsonl": "text/jsonl",
}

var extensions = map[string]string{
	"image/jpeg":   "jpg",
	"image/png":    "png",
	"image/gif":    "gif",
	"image/bmp":    "bmp",
	"image/webp":   "webp",
	"image/tiff":   "tiff",
	"image/x-icon": "ico",
	"text/jsonl":   "jsonl",
}

// MimeType returns the MIME type for a file extension, with or without the
// leading dot. Unknown extensions map to application/octet-stream.
func MimeType(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if m, ok := mimeTypes[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

// MimeTypeForFile returns the MIME type for a file path.
func MimeTypeForFile(path string) string {
	return MimeType(filepath.Ext(path))
}

// Extension returns the file extension (without dot) for a MIME type, or "".
func Extension(mimeType string) string {
	return extensions[strings.ToLower(mimeType)]
}
