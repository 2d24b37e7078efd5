// Package repopath models repository-relative paths. A Path is always
// cleaned, slash separated and never climbs above the repository root,
// which is represented as ".".
package repopath

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Path is a normalized path relative to the repository root.
type Path struct {
	val string
}

// RootPath is the repository root itself.
var RootPath = Path{val: "."}

// New normalizes s into a Path. Empty input is the root.
func New(s string) (Path, error) {
	if s == "" {
		return RootPath, nil
	}
	if path.IsAbs(s) {
		return Path{}, fmt.Errorf("path %q must be relative to the repo root", s)
	}
	cleaned := path.Clean(s)
	if climbs(cleaned) {
		return Path{}, fmt.Errorf("path %q climbs above the repo root", s)
	}
	return Path{val: cleaned}, nil
}

func climbs(cleaned string) bool {
	return cleaned == ".." || strings.HasPrefix(cleaned, "../")
}

func (p Path) String() string {
	if p.val == "" {
		return "."
	}
	return p.val
}

// IsRoot reports whether p is the repository root.
func (p Path) IsRoot() bool { return p.String() == "." }

func (p Path) Compare(other Path) int { return strings.Compare(p.String(), other.String()) }

// Expand appends rel to p. rel must descend: the result may not end up
// above p.
func (p Path) Expand(rel string) (Path, error) {
	if path.IsAbs(rel) {
		return Path{}, fmt.Errorf("cannot expand %q by %q: must be relative", p, rel)
	}
	cleaned := path.Clean(rel)
	if climbs(cleaned) {
		return Path{}, fmt.Errorf("cannot expand %q by %q: must not climb", p, rel)
	}
	return New(path.Join(p.String(), cleaned))
}

// To navigates from p by rel, which may climb, as long as the result stays
// inside the repository.
func (p Path) To(rel string) (Path, error) {
	if path.IsAbs(rel) {
		return Path{}, fmt.Errorf("cannot navigate from %q to %q: must be relative", p, rel)
	}
	joined := path.Join(p.String(), rel)
	if climbs(joined) {
		return Path{}, fmt.Errorf("cannot go up outside of the repo: %q from %q", rel, p)
	}
	return Path{val: joined}, nil
}

// Parent returns the containing directory. The root has no parent.
func (p Path) Parent() (Path, bool) {
	if p.IsRoot() {
		return p, false
	}
	return Path{val: path.Dir(p.val)}, true
}

// Base returns the last element of p.
func (p Path) Base() string { return path.Base(p.String()) }

// Contains reports whether other is p or lies below it.
func (p Path) Contains(other Path) bool {
	if p.IsRoot() || p.String() == other.String() {
		return true
	}
	return strings.HasPrefix(other.String(), p.String()+"/")
}

// Rel returns other relative to p. other must be contained in p.
func (p Path) Rel(other Path) (string, error) {
	if !p.Contains(other) {
		return "", fmt.Errorf("%q is not below %q", other, p)
	}
	if p.IsRoot() {
		return other.String(), nil
	}
	if p.String() == other.String() {
		return ".", nil
	}
	return strings.TrimPrefix(other.String(), p.String()+"/"), nil
}

func (p Path) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Path) UnmarshalText(b []byte) error {
	parsed, err := New(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Root is the absolute location of the repository on disk.
type Root struct {
	abs string
}

// NewRoot wraps an absolute directory as the repository root.
func NewRoot(dir string) (Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("failed to resolve repo root %q: %w", dir, err)
	}
	return Root{abs: filepath.Clean(abs)}, nil
}

func (r Root) String() string { return r.abs }

// Resolve returns the OS path for p.
func (r Root) Resolve(p Path) string {
	return filepath.Join(r.abs, filepath.FromSlash(p.String()))
}

// Unresolve converts an absolute OS path below the root into a Path.
func (r Root) Unresolve(abs string) (Path, error) {
	rel, err := filepath.Rel(r.abs, filepath.Clean(abs))
	if err != nil {
		return Path{}, fmt.Errorf("%q cannot be made relative to the repo root %q: %w", abs, r.abs, err)
	}
	rel = filepath.ToSlash(rel)
	if climbs(rel) {
		return Path{}, fmt.Errorf("%q is outside the repo root %q (would need %s)", abs, r.abs, rel)
	}
	return New(rel)
}
