package hclrepo

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes every top-level block of a monogrid.hcl file.
type fileRoot struct {
	Units  []*unitBlock `hcl:"unit,block"`
	Tasks  []*taskBlock `hcl:"task,block"`
	Remain hcl.Body     `hcl:",remain"`
}

type unitBlock struct {
	ID   string   `hcl:"id,label"`
	Path *string  `hcl:"path,optional"`
	Deps []string `hcl:"deps,optional"`
}

type outputBlock struct {
	Path  string  `hcl:"path,label"`
	Purge *string `hcl:"purge,optional"`
}

type taskBlock struct {
	Kind  string   `hcl:"kind,label"`
	Units []string `hcl:"units,optional"`

	Command hcl.Expression `hcl:"command,optional"`

	Outputs      []string       `hcl:"outputs,optional"`
	OutputBlocks []*outputBlock `hcl:"output,block"`
	InputsInUnit []string       `hcl:"inputs_in_unit,optional"`
	InputsInDeps []string       `hcl:"inputs_in_deps,optional"`

	DepsInUnit []string `hcl:"deps_in_unit,optional"`
	// DepsInDeps stays an expression so an omitted attribute can be told
	// apart from an empty list.
	DepsInDeps hcl.Expression `hcl:"deps_in_deps,optional"`
	Deps       []string       `hcl:"deps,optional"`

	UseCaching  *bool   `hcl:"use_caching,optional"`
	Timeout     *string `hcl:"timeout,optional"`
	TestResults *bool   `hcl:"test_results,optional"`
}
