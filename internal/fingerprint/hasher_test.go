package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/monogrid/internal/outputs"
	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/taskgraph"
	"github.com/vk/monogrid/internal/taskid"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func task(t *testing.T, name string, inputs []string, deps ...string) taskgraph.TaskInfo {
	t.Helper()
	n, err := taskid.ParseTaskName(name)
	require.NoError(t, err)
	info := taskgraph.TaskInfo{Name: n}
	for _, in := range inputs {
		p, err := repopath.New(in)
		require.NoError(t, err)
		info.Inputs = append(info.Inputs, p)
	}
	for _, d := range deps {
		dn, err := taskid.ParseTaskName(d)
		require.NoError(t, err)
		info.Deps = append(info.Deps, dn)
	}
	return info
}

func newHasher(t *testing.T, dir string, reg *outputs.Registry, opts ...Option) *Hasher {
	t.Helper()
	root, err := repopath.NewRoot(dir)
	require.NoError(t, err)
	if reg == nil {
		reg = outputs.New()
	}
	return New(root, reg, opts...)
}

func TestCompute_Deterministic(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a/src/main.go": "package a", "a/src/util.go": "package a // util"})
	h := newHasher(t, dir, nil)
	info := task(t, "a:build", []string{"a/src"})

	fp1, err := h.Compute(info, nil)
	require.NoError(t, err)
	fp2, err := h.Compute(info, nil)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	other := task(t, "a:test", []string{"a/src"})
	fp3, err := h.Compute(other, nil)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3, "task identity is part of the key")
}

func TestCompute_SensitiveToContentAndTransitive(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a/src/a.txt": "one", "b/src/b.txt": "two"})
	h := newHasher(t, dir, nil)

	aBuild := task(t, "a:build", []string{"a/src/**"})
	bBuild := task(t, "b:build", []string{"b/src/**"}, "a:build")
	bTest := task(t, "b:test", []string{"b/test"}, "b:build")

	chain := func() (string, string, string) {
		a, err := h.Compute(aBuild, nil)
		require.NoError(t, err)
		b, err := h.Compute(bBuild, map[taskid.TaskName]string{aBuild.Name: a})
		require.NoError(t, err)
		c, err := h.Compute(bTest, map[taskid.TaskName]string{bBuild.Name: b})
		require.NoError(t, err)
		return a, b, c
	}

	a1, b1, c1 := chain()
	writeFiles(t, dir, map[string]string{"a/src/a.txt": "one!"})
	a2, b2, c2 := chain()

	assert.NotEqual(t, a1, a2)
	assert.NotEqual(t, b1, b2, "direct dependents change")
	assert.NotEqual(t, c1, c2, "transitive dependents change")
}

func TestCompute_MissingDependencyFingerprint(t *testing.T) {
	h := newHasher(t, t.TempDir(), nil)
	_, err := h.Compute(task(t, "b:build", nil, "a:build"), nil)
	assert.ErrorContains(t, err, "missing fingerprint for dependency a:build")
}

func TestInputs_ExcludesOutputsAndIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a/src/x.txt":    "x",
		"a/dist/out.js":  "built",
		"a/.cache/c.bin": "cache",
		".git/HEAD":      "ref",
	})
	reg := outputs.New()
	dist, err := repopath.New("a/dist")
	require.NoError(t, err)
	name, err := taskid.ParseTaskName("a:build")
	require.NoError(t, err)
	reg.Add(name, dist)

	h := newHasher(t, dir, reg, WithIgnore("**/.cache/**"))

	inputs, err := h.Inputs(task(t, "a:build", []string{"a", ".git"}))
	require.NoError(t, err)
	assert.Len(t, inputs, 1)
	assert.Contains(t, inputs, "a/src/x.txt")
}

func TestInputs_MissingFileMarker(t *testing.T) {
	dir := t.TempDir()
	h := newHasher(t, dir, nil)
	info := task(t, "a:build", []string{"a/config.json"})

	before, err := h.Compute(info, nil)
	require.NoError(t, err)

	inputs, err := h.Inputs(info)
	require.NoError(t, err)
	assert.Equal(t, missingMarker, inputs["a/config.json"])

	writeFiles(t, dir, map[string]string{"a/config.json": "{}"})
	after, err := h.Compute(info, nil)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestCompute_Salt(t *testing.T) {
	dir := t.TempDir()
	info := task(t, "a:build", nil)

	plain, err := newHasher(t, dir, nil).Compute(info, nil)
	require.NoError(t, err)
	salted, err := newHasher(t, dir, nil, WithSalt("v2")).Compute(info, nil)
	require.NoError(t, err)
	assert.NotEqual(t, plain, salted)
}
