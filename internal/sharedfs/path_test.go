// Package sharedfs tests validate path policy and traversal protections.
package sharedfs

import "testing"

// TestValidateSegmentsRejectsUnsafeSegments covers empty, ".", "..", and
// backslash-bearing segments.
func TestValidateSegmentsRejectsUnsafeSegments(t *testing.T) {
	cases := []string{
		"foo/../bar",
		"foo/./bar",
		"foo//bar",
		"foo\\bar",
		"/leading",
		"trailing/",
	}
	for _, tc := range cases {
		if _, err := ValidateSegments(tc, true); err != ErrPathSafety {
			t.Fatalf("ValidateSegments(%q): expected ErrPathSafety, got %v", tc, err)
		}
	}
}

// TestValidateSegmentsHiddenGating covers the showHidden policy split.
func TestValidateSegmentsHiddenGating(t *testing.T) {
	if _, err := ValidateSegments(".secret", false); err != ErrHidden {
		t.Fatalf("expected ErrHidden, got %v", err)
	}
	segs, err := ValidateSegments(".secret", true)
	if err != nil {
		t.Fatalf("unexpected error with showHidden=true: %v", err)
	}
	if len(segs) != 1 || segs[0] != ".secret" {
		t.Fatalf("unexpected segments: %v", segs)
	}
}

// TestValidateSegmentsAcceptsRoot confirms an empty path means root.
func TestValidateSegmentsAcceptsRoot(t *testing.T) {
	segs, err := ValidateSegments("", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 0 {
		t.Fatalf("expected no segments, got %v", segs)
	}
}

// TestValidateSegmentsAcceptsNested confirms an ordinary nested path
// splits cleanly.
func TestValidateSegmentsAcceptsNested(t *testing.T) {
	segs, err := ValidateSegments("folder/sub/file.txt", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"folder", "sub", "file.txt"}
	if len(segs) != len(want) {
		t.Fatalf("expected %v, got %v", want, segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, segs)
		}
	}
}
