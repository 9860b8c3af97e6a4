package snap

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NormalizePath converts a working-tree path into the canonical form used as
// a FileIndex key: slash separated, relative, cleaned and NFC normalised.
// Absolute paths and paths escaping the tree root are rejected.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if !utf8.ValidString(p) {
		return "", fmt.Errorf("path is not valid UTF-8: %q", p)
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("path contains NUL byte: %q", p)
	}
	slashed := strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(slashed, "/") {
		return "", fmt.Errorf("path must be relative: %s", p)
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path escapes tree root: %s", p)
	}
	return norm.NFC.String(cleaned), nil
}
