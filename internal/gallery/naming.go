package gallery

import (
	"strconv"
	"strings"
)

// DefaultPrefix is the role prefix of gallery files (gallery_1.webp, ...).
const DefaultPrefix = "gallery"

// Name returns the gallery file name for a 1-based index.
func Name(prefix string, index int, ext string) string {
	return prefix + "_" + strconv.Itoa(index) + ext
}

// ParseIndex extracts n from "<prefix>_<n><ext>". Matching of the extension
// is case-insensitive; n must be a positive decimal integer.
func ParseIndex(name, prefix, ext string) (int, bool) {
	if len(name) < len(ext) || !strings.EqualFold(name[len(name)-len(ext):], ext) {
		return 0, false
	}
	stem := name[:len(name)-len(ext)]
	digits, ok := strings.CutPrefix(stem, prefix+"_")
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// hasExt reports whether name ends in one of exts, ignoring case.
func hasExt(name string, exts ...string) bool {
	for _, ext := range exts {
		if len(name) >= len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext) {
			return true
		}
	}
	return false
}
