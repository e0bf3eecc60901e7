package sharedfs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrEscape is returned if a resolved path ends up outside root — this
// should be unreachable given segments already passed ValidateSegments,
// but resolution re-checks it defensively.
var ErrEscape = errors.New("sharedfs: path escapes root")

// FS is a jailed view over a shared folder. Path arguments are already-
// validated segment slices (see ValidateSegments), not raw strings.
type FS struct {
	root string
	base afero.Fs
}

// New returns an FS rooted at root, backed by the real OS filesystem.
func New(root string) *FS {
	return &FS{root: root, base: afero.NewOsFs()}
}

// NewWithBase returns an FS rooted at root over an arbitrary afero.Fs,
// letting tests substitute afero.NewMemMapFs() instead of touching disk.
func NewWithBase(root string, base afero.Fs) *FS {
	return &FS{root: root, base: base}
}

// Root returns the configured root path.
func (f *FS) Root() string { return f.root }

// Resolve joins validated segments onto root and confirms the result
// stays within it, rejecting any symlink escape when running against
// the real OS filesystem.
func (f *FS) Resolve(segments []string) (string, error) {
	rel := filepath.Join(segments...)
	joined := filepath.Clean(filepath.Join(f.root, rel))
	if !isWithin(f.root, joined) {
		return "", ErrEscape
	}
	if _, ok := f.base.(*afero.OsFs); ok {
		if hasSymlinkEscape(f.root, joined) {
			return "", ErrEscape
		}
	}
	return joined, nil
}

// Create creates (or truncates) the file at segments, creating parent
// directories as needed.
func (f *FS) Create(segments []string) (afero.File, error) {
	p, err := f.Resolve(segments)
	if err != nil {
		return nil, err
	}
	if err := f.base.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}
	return f.base.Create(p)
}

// Open opens the file at segments for reading.
func (f *FS) Open(segments []string) (afero.File, error) {
	p, err := f.Resolve(segments)
	if err != nil {
		return nil, err
	}
	return f.base.Open(p)
}

// MkdirAll creates the directory at segments, including parents.
func (f *FS) MkdirAll(segments []string) error {
	p, err := f.Resolve(segments)
	if err != nil {
		return err
	}
	return f.base.MkdirAll(p, 0o700)
}

// Remove removes a single file or empty directory at segments.
func (f *FS) Remove(segments []string) error {
	p, err := f.Resolve(segments)
	if err != nil {
		return err
	}
	return f.base.Remove(p)
}

// RemoveAll recursively removes the tree rooted at segments.
func (f *FS) RemoveAll(segments []string) error {
	p, err := f.Resolve(segments)
	if err != nil {
		return err
	}
	return f.base.RemoveAll(p)
}

// Rename moves the entry at fromSegments to toSegments, creating the
// destination's parent directory if missing, and failing with
// os.ErrExist if the destination is already occupied.
func (f *FS) Rename(fromSegments, toSegments []string) error {
	fromP, err := f.Resolve(fromSegments)
	if err != nil {
		return err
	}
	toP, err := f.Resolve(toSegments)
	if err != nil {
		return err
	}
	if _, err := f.base.Stat(toP); err == nil {
		return os.ErrExist
	}
	if err := f.base.MkdirAll(filepath.Dir(toP), 0o700); err != nil {
		return err
	}
	return f.base.Rename(fromP, toP)
}

// Stat returns file info for segments.
func (f *FS) Stat(segments []string) (os.FileInfo, error) {
	p, err := f.Resolve(segments)
	if err != nil {
		return nil, err
	}
	return f.base.Stat(p)
}

// ReadDir lists the immediate children of the directory at segments.
func (f *FS) ReadDir(segments []string) ([]os.FileInfo, error) {
	p, err := f.Resolve(segments)
	if err != nil {
		return nil, err
	}
	return afero.ReadDir(f.base, p)
}

// Walk walks the tree rooted at segments, matching afero.Walk's
// semantics, used by batch/ZIP downloads to enumerate folder contents.
func (f *FS) Walk(segments []string, fn filepath.WalkFunc) error {
	p, err := f.Resolve(segments)
	if err != nil {
		return err
	}
	return afero.Walk(f.base, p, fn)
}

// OpenPath opens an already-resolved absolute path directly against the
// backing afero.Fs, for callers (ZIP streaming) that collected paths via
// Walk and need to reopen them without re-deriving segments.
func (f *FS) OpenPath(absPath string) (afero.File, error) {
	return f.base.Open(absPath)
}

func isWithin(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if root == candidate {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(candidate, root)
}

func hasSymlinkEscape(rootAbs, fullPath string) bool {
	rel, err := filepath.Rel(rootAbs, fullPath)
	if err != nil {
		return true
	}
	rel = filepath.Clean(rel)
	if rel == "." {
		return false
	}
	cur := rootAbs
	for _, p := range strings.Split(rel, string(filepath.Separator)) {
		if p == "" || p == "." {
			continue
		}
		cur = filepath.Join(cur, p)
		st, err := os.Lstat(cur)
		if err != nil {
			return false // component doesn't exist yet: nothing to traverse
		}
		if st.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(cur)
			if err != nil || !isWithin(rootAbs, filepath.Clean(resolved)) {
				return true
			}
		}
	}
	return false
}
