package utils

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ValidateFilename reports whether name is a single, plain path element that
// is safe to join under a storage directory.
func ValidateFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsRune(name, 0) {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	if decoded, err := url.PathUnescape(name); err == nil && decoded != name {
		return ValidateFilename(decoded)
	}
	return !strings.Contains(name, "..")
}

// SecureJoin joins name under base and fails when the result escapes base.
func SecureJoin(base, name string) (string, error) {
	cleanBase := filepath.Clean(base)
	full := filepath.Join(cleanBase, name)

	rel, err := filepath.Rel(cleanBase, full)
	if err != nil {
		return "", fmt.Errorf("resolve %q under %q: %w", name, base, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %q", name, base)
	}
	return full, nil
}

// GetExtension returns the file extension
func GetExtension(filename string) string {
	return filepath.Ext(filename)
}

// SwapExtension replaces the extension of filename with ext. A name without
// an extension gets ext appended.
func SwapExtension(filename, ext string) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ext
}

// BaseName returns filename without directory or extension.
func BaseName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// URLPath joins a public base URL with escaped path segments.
func URLPath(baseURL string, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.TrimRight(baseURL, "/") + path.Join(append([]string{"/"}, escaped...)...)
}

// GetMimeType returns MIME type based on extension (simplified)
func GetMimeType(filename string) string {
	mimeTypes := map[string]string{
		".mp4":  "video/mp4",
		".mov":  "video/quicktime",
		".mkv":  "video/x-matroska",
		".csv":  "text/csv",
		".json": "application/json",
		".yaml": "application/yaml",
		".yml":  "application/yaml",
	}

	if mime, ok := mimeTypes[strings.ToLower(GetExtension(filename))]; ok {
		return mime
	}
	return "application/octet-stream"
}
