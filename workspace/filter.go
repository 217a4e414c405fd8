package workspace

import (
	"bytes"
	"path"
	"strings"
)

// MaxImportFileSize is the largest file the GitHub importer stores.
const MaxImportFileSize = 10 << 20

var ignoredNames = map[string]bool{
	".git":              true,
	"node_modules":      true,
	".DS_Store":         true,
	"Thumbs.db":         true,
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"bun.lockb":         true,
	"Cargo.lock":        true,
	"poetry.lock":       true,
	"composer.lock":     true,
	"Gemfile.lock":      true,
	"go.sum":            true,
}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".avif": true, ".tiff": true,
	".mp3": true, ".wav": true, ".ogg": true, ".flac": true, ".aac": true,
	".mp4": true, ".webm": true, ".avi": true, ".mov": true, ".mkv": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true,
	".pdf": true, ".exe": true, ".dll": true, ".so": true, ".dylib": true,
}

var mimeTypes = map[string]string{
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".bmp":   "image/bmp",
	".ico":   "image/x-icon",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".svg":   "image/svg+xml",
	".mp3":   "audio/mpeg",
	".wav":   "audio/wav",
	".ogg":   "audio/ogg",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".pdf":   "application/pdf",
}

// ShouldIgnore reports whether an entry named name is left out of imports.
func ShouldIgnore(name string) bool {
	return ignoredNames[name]
}

// IsBinary reports whether name has an extension stored in blob storage
// rather than as text content.
func IsBinary(name string) bool {
	return binaryExtensions[ext(name)]
}

// MimeType returns the content type for name, or application/octet-stream.
func MimeType(name string) string {
	if t, ok := mimeTypes[ext(name)]; ok {
		return t
	}
	return "application/octet-stream"
}

// LooksBinary reports whether data contains a NUL byte.
func LooksBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}

func ext(name string) string {
	return strings.ToLower(path.Ext(name))
}
