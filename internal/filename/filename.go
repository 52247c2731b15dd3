// Package filename derives companion and per-attempt paths from an artifact's
// primary output path. Only the final path element is ever rewritten.
package filename

import (
	"strconv"
	"strings"
)

// AttemptPrefix marks an attempt number segment, as in "draft.i3.md".
const AttemptPrefix = ".i"

// StripAttemptSuffix removes a trailing ".iN" attempt marker, whether it sits
// right before the real extension ("name.i3.md" -> "name.md") or at the very
// end ("name.i3" -> "name"). Paths without a marker are returned unchanged.
func StripAttemptSuffix(path string) string {
	dir, base := splitBase(path)

	// Markers stacked at the end ("name.i1.i2") are all attempt numbering.
	stripped := false
	for {
		ext := extOf(base)
		if !isAttemptMarker(ext) {
			break
		}
		base = strings.TrimSuffix(base, ext)
		stripped = true
	}
	if stripped {
		return dir + base
	}

	ext := extOf(base)
	if ext == "" {
		return path
	}
	stem := strings.TrimSuffix(base, ext)
	if marker := extOf(stem); isAttemptMarker(marker) {
		return dir + strings.TrimSuffix(stem, marker) + ext
	}
	return path
}

// WithExtension replaces the trailing extension of path with ext, or appends
// ext when path has none. ext may be given with or without the leading dot.
// An attempt marker is an extension like any other here; callers that need an
// unnumbered companion path call StripAttemptSuffix first.
func WithExtension(path, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	dir, base := splitBase(path)
	return dir + strings.TrimSuffix(base, extOf(base)) + ext
}

// WithAttempt numbers path for attempt n: "draft.md" -> "draft.i2.md".
// Any existing marker is replaced.
func WithAttempt(path string, n int) string {
	path = StripAttemptSuffix(path)
	dir, base := splitBase(path)
	ext := extOf(base)
	return dir + strings.TrimSuffix(base, ext) + AttemptPrefix + strconv.Itoa(n) + ext
}

// Attempt returns the attempt number encoded in path, if any. A marker whose
// number does not fit an int is not an attempt.
func Attempt(path string) (int, bool) {
	_, base := splitBase(path)
	ext := extOf(base)
	marker := ext
	if !isAttemptMarker(marker) {
		marker = extOf(strings.TrimSuffix(base, ext))
		if !isAttemptMarker(marker) {
			return 0, false
		}
	}
	n, err := strconv.Atoi(marker[len(AttemptPrefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitBase(path string) (dir, base string) {
	i := strings.LastIndexAny(path, `/\`)
	return path[:i+1], path[i+1:]
}

// extOf returns the last ".ext" segment of a base name. A leading dot (as in
// ".env") does not start an extension.
func extOf(base string) string {
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return ""
	}
	return base[i:]
}

func isAttemptMarker(ext string) bool {
	if len(ext) <= len(AttemptPrefix) || !strings.HasPrefix(ext, AttemptPrefix) {
		return false
	}
	for _, r := range ext[len(AttemptPrefix):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
