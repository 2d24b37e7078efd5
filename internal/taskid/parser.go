package taskid

import (
	"fmt"
	"slices"
	"strings"
)

// ParseTaskName parses the canonical string form of a task name.
//
//	a:build          unit "a", kind "build"
//	a:build:x        unit "a", kind "build", sub "x"
//	@s:a:build:x     unit "@s:a", kind "build", sub "x"
//
// A three part name is always read as unit:kind:sub. Names built from a
// colon-containing unit without a sub kind therefore only round-trip
// through Undo, not through the string form.
func ParseTaskName(s string) (TaskName, error) {
	parts := strings.Split(s, ":")

	var unitStr, kindStr, sub string
	switch len(parts) {
	case 2:
		unitStr, kindStr = parts[0], parts[1]
	case 3:
		unitStr, kindStr, sub = parts[0], parts[1], parts[2]
	case 4:
		unitStr, kindStr, sub = parts[0]+":"+parts[1], parts[2], parts[3]
	default:
		return TaskName{}, fmt.Errorf("Bad TaskName: %q must look like unit:kind[:sub]", s)
	}
	if len(parts) > 2 && sub == "" {
		return TaskName{}, fmt.Errorf("Bad TaskName: %q has an empty sub kind", s)
	}

	unit, err := NewUnitID(unitStr)
	if err != nil {
		return TaskName{}, fmt.Errorf("Bad TaskName: %q: %w", s, err)
	}
	kind, err := NewTaskKind(kindStr)
	if err != nil {
		return TaskName{}, fmt.Errorf("Bad TaskName: %q: %w", s, err)
	}
	return NewTaskName(unit, kind, sub)
}

// ParseUnitIDs validates a list of raw unit ids.
func ParseUnitIDs(raw []string) ([]UnitID, error) {
	out := make([]UnitID, 0, len(raw))
	for _, r := range raw {
		id, err := NewUnitID(r)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// ParseTaskKinds validates a list of raw task kinds. A nil input yields a
// nil result so callers can distinguish "unset" from "empty".
func ParseTaskKinds(raw []string) ([]TaskKind, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]TaskKind, 0, len(raw))
	for _, r := range raw {
		k, err := NewTaskKind(r)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// SortNames sorts task names in place by their canonical string.
func SortNames(names []TaskName) {
	slices.SortFunc(names, TaskName.Compare)
}
