package taskgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/monogrid/internal/repopath"
	"github.com/vk/monogrid/internal/taskid"
)

// ErrConfig wraps every configuration problem found while building the
// graph. Such errors are fatal and abort the run before execution.
var ErrConfig = errors.New("invalid task configuration")

// Unit is the metadata of one buildable package.
type Unit struct {
	ID   taskid.UnitID
	Path repopath.Path
	Deps []taskid.UnitID
}

// PurgePolicy decides whether an output location is wiped before the task
// runs.
type PurgePolicy int

const (
	// PurgeNever preserves previous contents for incremental reuse.
	PurgeNever PurgePolicy = iota
	// PurgeAlways deletes the location before execution.
	PurgeAlways
)

func (p PurgePolicy) String() string {
	if p == PurgeAlways {
		return "ALWAYS"
	}
	return "NEVER"
}

// MarshalText renders the policy in its canonical upper-case form.
func (p PurgePolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// ParsePurgePolicy accepts "always" or "never" in any case.
func ParsePurgePolicy(s string) (PurgePolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALWAYS":
		return PurgeAlways, nil
	case "NEVER":
		return PurgeNever, nil
	default:
		return PurgeNever, fmt.Errorf("%w: unknown purge policy %q (want always or never)", ErrConfig, s)
	}
}

// OutputSpec is an output as declared in a definition, relative to the unit.
type OutputSpec struct {
	Path  string
	Purge PurgePolicy
}

// TaskDefinition is a declarative rule producing one task per matching unit.
//
// When several definitions of the same kind match a unit, the last one in
// declaration order wins; earlier ones are ignored entirely, not merged.
type TaskDefinition struct {
	Kind taskid.TaskKind
	// UnitIDs scopes the rule. Empty means every unit.
	UnitIDs []taskid.UnitID

	Outputs      []OutputSpec
	InputsInUnit []string
	InputsInDeps []string

	// DepsInUnit lists kinds of the same unit this task waits for.
	DepsInUnit []taskid.TaskKind
	// DepsInDeps lists kinds this task waits for in every unit of the
	// dependency closure. Nil means the task's own kind; an empty slice
	// disables the rule.
	DepsInDeps []taskid.TaskKind

	// UseCaching defaults to true.
	UseCaching *bool
}

func (d *TaskDefinition) appliesTo(unit taskid.UnitID) bool {
	if len(d.UnitIDs) == 0 {
		return true
	}
	for _, id := range d.UnitIDs {
		if id == unit {
			return true
		}
	}
	return false
}

func (d *TaskDefinition) isBare() bool {
	return len(d.Outputs) == 0 && len(d.InputsInUnit) == 0 && len(d.InputsInDeps) == 0
}

// OutputLocation is a resolved output of a task.
type OutputLocation struct {
	Path  repopath.Path `json:"path"`
	Purge PurgePolicy   `json:"purge"`
}

// TaskInfo is a resolved node of the task graph. It is not modified after
// Build returns.
type TaskInfo struct {
	Name       taskid.TaskName
	Inputs     []repopath.Path
	Outputs    []OutputLocation
	Deps       []taskid.TaskName
	UseCaching bool
}

// resolution describes how a unit/kind pair was resolved.
type resolution int

const (
	resolvedNone resolution = iota
	resolvedDefault
	resolvedDefined
)

func (r resolution) String() string {
	switch r {
	case resolvedDefault:
		return "DEFAULT"
	case resolvedDefined:
		return "DEFINED"
	default:
		return "NONE"
	}
}
