package taskid

import (
	"fmt"
	"strings"
)

// UnitID identifies a buildable unit within the repository.
type UnitID struct {
	val string
}

// NewUnitID validates s and wraps it. A unit id must be non-empty and may
// contain at most one colon.
func NewUnitID(s string) (UnitID, error) {
	if s == "" {
		return UnitID{}, fmt.Errorf("Bad UnitId: %q must not be empty", s)
	}
	if strings.Count(s, ":") > 1 {
		return UnitID{}, fmt.Errorf("Bad UnitId: %q contains more than one colon", s)
	}
	return UnitID{val: s}, nil
}

func (u UnitID) String() string { return u.val }

// IsZero reports whether u was never assigned.
func (u UnitID) IsZero() bool { return u.val == "" }

// Compare orders unit ids by their string value.
func (u UnitID) Compare(other UnitID) int { return strings.Compare(u.val, other.val) }

// MarshalText implements encoding.TextMarshaler.
func (u UnitID) MarshalText() ([]byte, error) { return []byte(u.val), nil }

// UnmarshalText implements encoding.TextUnmarshaler and validates the input.
func (u *UnitID) UnmarshalText(b []byte) error {
	parsed, err := NewUnitID(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// TaskKind names a category of task such as `build` or `test`.
type TaskKind struct {
	val string
}

// NewTaskKind validates s and wraps it. A kind must be non-empty and must
// not contain a colon.
func NewTaskKind(s string) (TaskKind, error) {
	if s == "" {
		return TaskKind{}, fmt.Errorf("Bad TaskKind: %q must not be empty", s)
	}
	if strings.Contains(s, ":") {
		return TaskKind{}, fmt.Errorf("Bad TaskKind: %q must not contain a colon", s)
	}
	return TaskKind{val: s}, nil
}

func (k TaskKind) String() string { return k.val }

func (k TaskKind) IsZero() bool { return k.val == "" }

func (k TaskKind) Compare(other TaskKind) int { return strings.Compare(k.val, other.val) }

func (k TaskKind) MarshalText() ([]byte, error) { return []byte(k.val), nil }

func (k *TaskKind) UnmarshalText(b []byte) error {
	parsed, err := NewTaskKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// TaskName is the scheduling key of a task: a unit, a kind and an
// optional sub kind.
type TaskName struct {
	unit UnitID
	kind TaskKind
	sub  string
}

// NewTaskName builds a task name from its parts. The sub kind may be empty
// but must not contain a colon.
func NewTaskName(unit UnitID, kind TaskKind, sub string) (TaskName, error) {
	if unit.IsZero() || kind.IsZero() {
		return TaskName{}, fmt.Errorf("Bad TaskName: unit and kind are required (got %q, %q)", unit, kind)
	}
	if strings.Contains(sub, ":") {
		return TaskName{}, fmt.Errorf("Bad TaskName: sub kind %q must not contain a colon", sub)
	}
	return TaskName{unit: unit, kind: kind, sub: sub}, nil
}

// Of is a shorthand for names without a sub kind. Both parts are already
// validated, so it cannot fail.
func Of(unit UnitID, kind TaskKind) TaskName {
	return TaskName{unit: unit, kind: kind}
}

// Undo returns the components the name was built from.
func (n TaskName) Undo() (UnitID, TaskKind, string) {
	return n.unit, n.kind, n.sub
}

func (n TaskName) Unit() UnitID   { return n.unit }
func (n TaskName) Kind() TaskKind { return n.kind }
func (n TaskName) Sub() string    { return n.sub }

func (n TaskName) IsZero() bool { return n.unit.IsZero() }

func (n TaskName) String() string {
	if n.sub == "" {
		return n.unit.val + ":" + n.kind.val
	}
	return n.unit.val + ":" + n.kind.val + ":" + n.sub
}

// Compare orders task names by their canonical string.
func (n TaskName) Compare(other TaskName) int {
	return strings.Compare(n.String(), other.String())
}

func (n TaskName) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

func (n *TaskName) UnmarshalText(b []byte) error {
	parsed, err := ParseTaskName(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
