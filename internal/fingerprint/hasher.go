// Package fingerprint computes the cache key of a task: a deterministic
// hash over the task identity, the content of its input files and the
// fingerprints of its dependencies.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/vk/monogrid/internal/canon"
	"github.com/vk/monogrid/internal/outputs"
	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/taskgraph"
	"github.com/vk/monogrid/internal/taskid"
)

// formatVersion is mixed into every fingerprint; bump it when the hashed
// document changes shape.
const formatVersion = 1

// missingMarker stands in for the digest of a declared file that does
// not exist, so creating it later changes the key.
const missingMarker = "missing"

// Hasher computes task fingerprints relative to a repository root.
type Hasher struct {
	root     repopath.Root
	fsys     fs.FS
	registry *outputs.Registry
	salt     string
	ignore   []string
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithSalt mixes a global salt into every fingerprint.
func WithSalt(salt string) Option {
	return func(h *Hasher) { h.salt = salt }
}

// WithIgnore adds doublestar patterns, relative to the root, whose matches
// never count as inputs.
func WithIgnore(patterns ...string) Option {
	return func(h *Hasher) { h.ignore = append(h.ignore, patterns...) }
}

// New creates a Hasher. Files owned by any output location in registry are
// excluded from input sets; dependency outputs reach a fingerprint
// through the dependency's own fingerprint instead.
func New(root repopath.Root, registry *outputs.Registry, opts ...Option) *Hasher {
	h := &Hasher{
		root:     root,
		fsys:     os.DirFS(root.String()),
		registry: registry,
		ignore:   []string{".git/**"},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type document struct {
	Version int                        `json:"version"`
	Task    string                     `json:"task"`
	Inputs  map[string]string          `json:"inputs"`
	Deps    map[string]string          `json:"deps"`
	Outputs []taskgraph.OutputLocation `json:"outputs"`
	Salt    string                     `json:"salt,omitempty"`
}

// Compute returns the fingerprint of task. deps must hold the fingerprint
// of every direct dependency of the task.
func (h *Hasher) Compute(task taskgraph.TaskInfo, deps map[taskid.TaskName]string) (string, error) {
	inputs, err := h.Inputs(task)
	if err != nil {
		return "", err
	}

	doc := document{
		Version: formatVersion,
		Task:    task.Name.String(),
		Inputs:  inputs,
		Deps:    make(map[string]string, len(task.Deps)),
		Outputs: task.Outputs,
		Salt:    h.salt,
	}
	for _, dep := range task.Deps {
		fp, ok := deps[dep]
		if !ok || fp == "" {
			return "", fmt.Errorf("fingerprint of %s: missing fingerprint for dependency %s", task.Name, dep)
		}
		doc.Deps[dep.String()] = fp
	}

	fp, err := canon.Hash(doc)
	if err != nil {
		return "", fmt.Errorf("fingerprint of %s: %w", task.Name, err)
	}
	return fp, nil
}

// Inputs expands the declared inputs of task into a map from repo path to
// content digest.
func (h *Hasher) Inputs(task taskgraph.TaskInfo) (map[string]string, error) {
	files := make(map[string]string)
	for _, input := range task.Inputs {
		if err := h.expand(input.String(), files); err != nil {
			return nil, fmt.Errorf("inputs of %s: %w", task.Name, err)
		}
	}
	return files, nil
}

func (h *Hasher) expand(pattern string, files map[string]string) error {
	if hasMeta(pattern) {
		matches, err := doublestar.Glob(h.fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if err := h.addFile(m, files); err != nil {
				return err
			}
		}
		return nil
	}

	info, err := fs.Stat(h.fsys, pattern)
	if errors.Is(err, fs.ErrNotExist) {
		if !h.excluded(pattern) {
			files[pattern] = missingMarker
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %q: %w", pattern, err)
	}
	if !info.IsDir() {
		return h.addFile(pattern, files)
	}

	return fs.WalkDir(h.fsys, pattern, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != pattern && h.excluded(p) {
				return fs.SkipDir
			}
			return nil
		}
		return h.addFile(p, files)
	})
}

func (h *Hasher) addFile(p string, files map[string]string) error {
	if _, done := files[p]; done || h.excluded(p) {
		return nil
	}
	digest, err := h.hashFile(p)
	if err != nil {
		return err
	}
	files[p] = digest
	return nil
}

// excluded reports whether p belongs to a registered output or matches an
// ignore pattern.
func (h *Hasher) excluded(p string) bool {
	if rp, err := repopath.New(p); err == nil && h.registry != nil {
		if _, owned := h.registry.Lookup(rp); owned {
			return true
		}
	}
	for _, pattern := range h.ignore {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

func (h *Hasher) hashFile(p string) (string, error) {
	f, err := h.fsys.Open(path.Clean(p))
	if err != nil {
		return "", fmt.Errorf("open %q: %w", p, err)
	}
	defer f.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", fmt.Errorf("read %q: %w", p, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
