package mcp

import (
	"path/filepath"
	"strings"
)

// mimeTypes maps document extensions to MIME types.
var mimeTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".mdx":      "text/markdown",
	".txt":      "text/plain",
	".rst":      "text/x-rst",
	".adoc":     "text/asciidoc",
	".org":      "text/x-org",
	".tex":      "text/x-tex",
	".html":     "text/html",
	".htm":      "text/html",
	".csv":      "text/csv",
	".json":     "application/json",
	".yaml":     "text/x-yaml",
	".yml":      "text/x-yaml",
}

// bareNames are extensionless files that are conventionally markdown.
var bareNames = map[string]bool{
	"README":       true,
	"CHANGELOG":    true,
	"CONTRIBUTING": true,
	"LICENSE":      false,
}

// MimeTypeForPath returns the MIME type for a document path.
// Returns "text/plain" for unknown types.
func MimeTypeForPath(path string) string {
	base := filepath.Base(path)
	if bareNames[base] {
		return "text/markdown"
	}

	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := mimeTypes[ext]; ok {
		return mime
	}
	return "text/plain"
}
