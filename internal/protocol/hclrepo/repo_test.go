package hclrepo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/monogrid/internal/events"
	"github.com/vk/monogrid/internal/protocol"
	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/taskgraph"
	"github.com/vk/monogrid/internal/taskid"
	"github.com/vk/monogrid/internal/testutil"
)

const workspaceHCL = `
unit "a" {
  path = "libs/a"
}

unit "b" {
  path = "libs/b"
  deps = ["a"]
}

task "build" {
  command      = "echo building ${unit.id} > out.txt"
  outputs      = ["out.txt"]
  inputs_in_unit = ["src/**"]
}

task "test" {
  command        = "echo testing ${task.name}"
  deps_in_unit   = ["build"]
  deps_in_deps   = ["build"]
  test_results   = true
}

task "lint" {
  units = ["a"]
}

task "lint" {
  units        = ["a"]
  command      = "exit 3"
  deps_in_deps = []
  deps         = ["a:build"]
}
`

func initRepo(t *testing.T, files map[string]string) (*Repo, string, *events.Bus) {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, files)
	root, err := repopath.NewRoot(dir)
	require.NoError(t, err)

	bus := events.NewBus()
	r := New()
	require.NoError(t, r.Initialize(context.Background(), root, bus, ".monogrid", protocol.Config{}))
	return r, dir, bus
}

func buildGraph(t *testing.T, r *Repo) *taskgraph.Graph {
	t.Helper()
	g, err := taskgraph.Build(context.Background(), r.Units(), r.Graph(), r.Definitions(), r.ExtraDeps())
	require.NoError(t, err)
	return g
}

func taskInfo(t *testing.T, g *taskgraph.Graph, name string) taskgraph.TaskInfo {
	t.Helper()
	n, err := taskid.ParseTaskName(name)
	require.NoError(t, err)
	info, ok := g.Task(n)
	require.True(t, ok, "task %s not in graph", name)
	return info
}

func logFile(t *testing.T, dir string) string {
	t.Helper()
	return filepath.Join(dir, "task.log")
}

func TestInitialize_LoadsWorkspace(t *testing.T) {
	r, _, _ := initRepo(t, map[string]string{"monogrid.hcl": workspaceHCL})

	units := r.Units()
	require.Len(t, units, 2)
	assert.Equal(t, "a", units[0].ID.String())
	assert.Equal(t, "libs/a", units[0].Path.String())
	assert.Equal(t, "b", units[1].ID.String())
	require.Len(t, units[1].Deps, 1)
	assert.Equal(t, "a", units[1].Deps[0].String())

	defs := r.Definitions()
	require.Len(t, defs, 4)
	assert.Equal(t, "build", defs[0].Kind.String())
	assert.Nil(t, defs[0].DepsInDeps, "omitted deps_in_deps keeps the implicit rule")
	assert.NotNil(t, defs[3].DepsInDeps)
	assert.Empty(t, defs[3].DepsInDeps)

	extra := r.ExtraDeps()
	lint := taskid.Of(units[0].ID, defs[3].Kind)
	require.Contains(t, extra, lint)
	assert.Equal(t, "a:build", extra[lint][0].String())

	g := buildGraph(t, r)
	test := taskInfo(t, g, "b:test")
	var deps []string
	for _, d := range test.Deps {
		deps = append(deps, d.String())
	}
	assert.Equal(t, []string{"a:build", "b:build"}, deps)
}

func TestInitialize_UnitPathDefaultsToFileDir(t *testing.T) {
	r, _, _ := initRepo(t, map[string]string{
		"services/api/monogrid.hcl": `unit "api" {}`,
		"node_modules/x/monogrid.hcl": `unit "ignored" {}`,
	})

	units := r.Units()
	require.Len(t, units, 1)
	assert.Equal(t, "services/api", units[0].Path.String())
}

func TestInitialize_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		hcl     string
		wantErr string
	}{
		{name: "syntax", hcl: `unit "a" {`, wantErr: "failed to parse HCL file"},
		{name: "unknown attribute", hcl: `unit "a" { colour = "red" }`, wantErr: "failed to decode HCL file"},
		{name: "bad purge", hcl: `task "build" {
  output "dist" { purge = "sometimes" }
}`, wantErr: "unknown purge policy"},
		{name: "bad timeout", hcl: `task "build" { timeout = "soon" }`, wantErr: "timeout"},
		{name: "climbing unit path", hcl: `unit "a" { path = "../x" }`, wantErr: "must not climb"},
		{name: "unknown unit dep", hcl: `unit "a" { deps = ["nope"] }`, wantErr: "nope"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			testutil.WriteFiles(t, dir, map[string]string{"monogrid.hcl": tc.hcl})
			root, err := repopath.NewRoot(dir)
			require.NoError(t, err)

			err = New().Initialize(context.Background(), root, events.NewBus(), ".monogrid", protocol.Config{})
			require.Error(t, err)
			assert.ErrorIs(t, err, taskgraph.ErrConfig)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestExecute_RunsCommandInUnitDir(t *testing.T) {
	r, dir, _ := initRepo(t, map[string]string{"monogrid.hcl": workspaceHCL})
	g := buildGraph(t, r)

	status, err := r.Execute(context.Background(), taskInfo(t, g, "a:build"), logFile(t, dir), "run-1")
	require.NoError(t, err)
	assert.Equal(t, protocol.ExitOK, status)
	assert.Equal(t, "building a\n", testutil.ReadFile(t, dir, "libs/a/out.txt"))
}

func TestExecute_NonZeroExitIsFail(t *testing.T) {
	r, dir, _ := initRepo(t, map[string]string{"monogrid.hcl": workspaceHCL})
	g := buildGraph(t, r)

	status, err := r.Execute(context.Background(), taskInfo(t, g, "a:lint"), logFile(t, dir), "run-1")
	require.NoError(t, err)
	assert.Equal(t, protocol.ExitFail, status)
}

func TestExecute_OutputGoesToLogFile(t *testing.T) {
	r, dir, bus := initRepo(t, map[string]string{"monogrid.hcl": workspaceHCL})
	g := buildGraph(t, r)

	var results []events.TestResult
	events.On(bus, func(_ context.Context, ev events.TestResult) error {
		results = append(results, ev)
		return nil
	})

	log := logFile(t, dir)
	status, err := r.Execute(context.Background(), taskInfo(t, g, "b:test"), log, "run-7")
	require.NoError(t, err)
	assert.Equal(t, protocol.ExitOK, status)

	data, err := os.ReadFile(log)
	require.NoError(t, err)
	assert.Equal(t, "testing b:test\n", string(data))

	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
	assert.Equal(t, "run-7", results[0].RunID)
}

func TestExecute_MissingCommandSucceeds(t *testing.T) {
	r, dir, _ := initRepo(t, map[string]string{"monogrid.hcl": `
unit "a" {}
task "noop" {}
`})
	g := buildGraph(t, r)

	status, err := r.Execute(context.Background(), taskInfo(t, g, "a:noop"), logFile(t, dir), "run")
	require.NoError(t, err)
	assert.Equal(t, protocol.ExitOK, status)
}

func TestExecute_TimeoutIsFail(t *testing.T) {
	r, dir, _ := initRepo(t, map[string]string{"monogrid.hcl": `
unit "a" {}
task "spin" {
  command = "while true; do :; done"
  timeout = "50ms"
}
`})
	g := buildGraph(t, r)

	log := logFile(t, dir)
	status, err := r.Execute(context.Background(), taskInfo(t, g, "a:spin"), log, "run")
	require.NoError(t, err)
	assert.Equal(t, protocol.ExitFail, status)

	data, err := os.ReadFile(log)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "timed out"))
}

func TestExecute_EnvironmentAndTemplate(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string]string{"monogrid.hcl": `
unit "a" {}
task "env" {
  command = "echo $MONOGRID_TASK $MONOGRID_RUN_ID $EXTRA ${run.id}"
}
`})
	root, err := repopath.NewRoot(dir)
	require.NoError(t, err)
	r := New()
	require.NoError(t, r.Initialize(context.Background(), root, events.NewBus(), ".monogrid",
		protocol.Config{Env: map[string]string{"EXTRA": "x"}}))
	g := buildGraph(t, r)

	log := logFile(t, dir)
	status, err := r.Execute(context.Background(), taskInfo(t, g, "a:env"), log, "r9")
	require.NoError(t, err)
	assert.Equal(t, protocol.ExitOK, status)

	data, err := os.ReadFile(log)
	require.NoError(t, err)
	assert.Equal(t, "a:env r9 x r9\n", string(data))
}

func TestExecute_BadTemplateIsError(t *testing.T) {
	r, dir, _ := initRepo(t, map[string]string{"monogrid.hcl": `
unit "a" {}
task "bad" {
  command = "echo ${nothing.here}"
}
`})
	g := buildGraph(t, r)

	status, err := r.Execute(context.Background(), taskInfo(t, g, "a:bad"), logFile(t, dir), "run")
	assert.Error(t, err)
	assert.Equal(t, protocol.ExitCrash, status)
}
