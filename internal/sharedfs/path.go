// Package sharedfs is the jailed view of the host's shared folder.
// Every path comes in as a slash-separated string from an HTTP query
// parameter; ValidateSegments enforces the segment-by-segment policy
// before FS ever touches a filesystem, and FS resolves validated
// segments to a location guaranteed to stay under its root.
package sharedfs

import (
	"errors"
	"strings"
)

// ErrPathSafety is returned for any path containing an empty, ".", "..",
// or backslash-bearing segment. Per spec this must be checked — and
// rejected — before any filesystem access is attempted.
var ErrPathSafety = errors.New("sharedfs: unsafe path")

// ErrHidden is returned when showHidden is false and a segment begins
// with ".". Distinct from ErrPathSafety because it maps to a different
// HTTP status (403 policy-denied, not 400 validation).
var ErrHidden = errors.New("sharedfs: hidden path denied")

// ValidateSegments splits path on "/", trims each segment, and applies
// the spec's path policy. It returns the cleaned, non-empty segment
// list with no leading/trailing slashes implied.
func ValidateSegments(path string, showHidden bool) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	raw := strings.Split(path, "/")
	segments := make([]string, 0, len(raw))
	for _, seg := range raw {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." || seg == ".." || strings.Contains(seg, "\\") {
			return nil, ErrPathSafety
		}
		if !showHidden && strings.HasPrefix(seg, ".") {
			return nil, ErrHidden
		}
		segments = append(segments, seg)
	}
	return segments, nil
}
