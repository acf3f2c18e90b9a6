// Package validation holds input checks for the HTTP boundary.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxFilenameLength = 255

// Characters that can break a Content-Disposition header or smuggle a path
// segment into a storage key.
var unsafeChars = map[rune]bool{
	'"':  true,
	'\\': true,
	'/':  true,
	':':  true,
	'\n': true,
	'\r': true,
}

// SanitizeFilename makes a client-supplied filename safe for storage keys and
// response headers. Unsafe and control characters become underscores, Unicode
// is preserved, overlong names are truncated keeping the extension, and empty
// input falls back to "file".
func SanitizeFilename(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if r < 32 || r == 127 || unsafeChars[r] {
			sb.WriteRune('_')
		} else {
			sb.WriteRune(r)
		}
	}

	result := strings.TrimSpace(sb.String())
	if strings.Trim(result, "_") == "" {
		return "file"
	}
	if len(result) > maxFilenameLength {
		result = truncatePreservingExtension(result)
	}
	return result
}

func truncatePreservingExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) >= maxFilenameLength {
		return truncateToBytes(name, maxFilenameLength)
	}
	base := name[:len(name)-len(ext)]
	return truncateToBytes(base, maxFilenameLength-len(ext)) + ext
}

// truncateToBytes cuts a UTF-8 string at a rune boundary at or before
// maxBytes.
func truncateToBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.ValidString(s[:maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// ContentDisposition builds a header value with a sanitized filename.
func ContentDisposition(filename string, inline bool) string {
	disposition := "attachment"
	if inline {
		disposition = "inline"
	}
	return fmt.Sprintf("%s; filename=%q", disposition, SanitizeFilename(filename))
}
