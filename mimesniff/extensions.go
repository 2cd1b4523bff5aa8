package mimesniff

import (
	"path/filepath"
	"strings"
)

// textExtensions is the fixed mapping from lowercase file extension to
// canonical text MIME type. Extended from
// gobeaver-filekit's filevalidator/mime.go extensionToMimeType table,
// restricted to the text subtypes the sniffer needs.
var textExtensions = map[string]string{
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".json":     "application/json",
	".xml":      "application/xml",
	".html":     "text/html",
	".htm":      "text/html",
	".css":      "text/css",
	".js":       "application/javascript",
	".ts":       "application/typescript",
	".py":       "text/x-python",
	".sh":       "application/x-sh",
	".sql":      "application/sql",
	".csv":      "text/csv",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
	".log":      "text/plain",
}

// ExtensionMIME returns the text MIME type registered for filename's
// extension (as filepath.Ext finds it, lowercased), or "" if that
// extension is not a recognized text extension.
func ExtensionMIME(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return textExtensions[ext]
}

// IsTextExtension reports whether filename's extension is in the
// text-extension table.
func IsTextExtension(filename string) bool {
	return ExtensionMIME(filename) != ""
}
