package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/monogrid/internal/report"
	"github.com/vk/monogrid/internal/taskgraph"
	"github.com/vk/monogrid/internal/testutil"
)

const appWorkspace = `
unit "a" {
  path = "a"
}

unit "b" {
  path = "b"
  deps = ["a"]
}

task "build" {
  command        = "echo ${unit.id}-$MONOGRID_RUN_ID > out.txt"
  outputs        = ["out.txt"]
  inputs_in_unit = ["src/**"]
}
`

// setupApp creates a workspace and an app rooted there.
func setupApp(t *testing.T, mutate func(*Config)) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{
		"monogrid.hcl":  appWorkspace,
		"a/src/main.txt": "a",
		"b/src/main.txt": "b",
	})

	cfg := Defaults()
	cfg.Root = dir
	cfg.Log.Level = "debug"
	if mutate != nil {
		mutate(&cfg)
	}
	valid, err := NewConfig(cfg)
	require.NoError(t, err)

	logBuffer := &testutil.SafeBuffer{}
	a := NewApp(logBuffer, valid)
	t.Cleanup(func() {
		if os.Getenv("MONOGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})
	return a, dir
}

func TestApp_RunTwiceUsesCache(t *testing.T) {
	a, dir := setupApp(t, nil)
	ids := []string{"run-1", "run-2"}
	a.newRunID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	ctx := context.Background()

	first, err := a.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, report.VerdictOK, first.Verdict)
	assert.Equal(t, 2, first.Breakdown.Count(report.VerdictOK, report.ExecutionExecuted))
	assert.Equal(t, "a-run-1\n", testutil.ReadFile(t, dir, "a/out.txt"))

	second, err := a.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Breakdown.Count(report.VerdictOK, report.ExecutionCached))
	assert.Equal(t, "a-run-1\n", testutil.ReadFile(t, dir, "a/out.txt"), "cached outputs come from the first run")

	assert.FileExists(t, filepath.Join(dir, ".monogrid", "logs", "a", "build.log"))
	assert.DirExists(t, filepath.Join(dir, ".monogrid", "cache"))

	m := a.Metrics()
	assert.Equal(t, 2.0, promtest.ToFloat64(m.TasksTotal.WithLabelValues("OK", "EXECUTED")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.TasksTotal.WithLabelValues("OK", "CACHED")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.RunsTotal.WithLabelValues("OK")))
}

func TestApp_RunSelection(t *testing.T) {
	testCases := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{name: "everything", patterns: nil, want: []string{"a:build", "b:build"}},
		{name: "task with its deps", patterns: []string{"b:build"}, want: []string{"a:build", "b:build"}},
		{name: "unit", patterns: []string{"a"}, want: []string{"a:build"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := setupApp(t, func(c *Config) { c.Cache.Backend = BackendMemory })

			res, err := a.Run(context.Background(), tc.patterns)
			require.NoError(t, err)

			var got []string
			for _, s := range res.Summaries {
				got = append(got, s.Task.String())
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestApp_UnknownPatternIsConfigError(t *testing.T) {
	a, _ := setupApp(t, nil)

	_, err := a.Run(context.Background(), []string{"nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, taskgraph.ErrConfig)
}

func TestApp_BrokenWorkspaceIsConfigError(t *testing.T) {
	a, dir := setupApp(t, nil)
	testutil.WriteFiles(t, dir, map[string]string{"monogrid.hcl": `unit "a" {`})

	_, err := a.Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, taskgraph.ErrConfig)
}

func TestApp_Graph(t *testing.T) {
	a, _ := setupApp(t, nil)

	g, err := a.Graph(context.Background(), []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
}

func TestApp_Owner(t *testing.T) {
	a, dir := setupApp(t, nil)
	ctx := context.Background()

	owners, err := a.Owner(ctx, "a/out.txt")
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "a:build", owners[0].String())

	owners, err = a.Owner(ctx, filepath.Join(dir, "b"))
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "b:build", owners[0].String())

	owners, err = a.Owner(ctx, "a/src")
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestApp_OutDirSkippedByLoader(t *testing.T) {
	a, dir := setupApp(t, nil)
	testutil.WriteFiles(t, dir, map[string]string{
		".monogrid/monogrid.hcl": `unit "ghost" {}`,
	})

	g, err := a.Graph(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())
}
