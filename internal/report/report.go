// Package report defines the outcome model of a run: per-task verdicts and
// execution types, their aggregation into a breakdown and the overall
// verdict.
package report

import (
	"slices"
	"time"

	"github.com/vk/monogrid/internal/taskid"
)

// Verdict is the outcome of a task or of a whole run.
type Verdict string

const (
	VerdictUnknown Verdict = "UNKNOWN"
	VerdictOK      Verdict = "OK"
	VerdictFail    Verdict = "FAIL"
	VerdictCrash   Verdict = "CRASH"
)

// ExecutionType records how a task's result was obtained.
type ExecutionType string

const (
	ExecutionUnknown     ExecutionType = "UNKNOWN"
	ExecutionExecuted    ExecutionType = "EXECUTED"
	ExecutionCached      ExecutionType = "CACHED"
	ExecutionCannotStart ExecutionType = "CANNOT_START"
)

// TaskSummary is the reporting record of one task in one run.
type TaskSummary struct {
	Task        taskid.TaskName `json:"task"`
	Verdict     Verdict         `json:"verdict"`
	Execution   ExecutionType   `json:"execution"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Duration    time.Duration   `json:"duration"`
	Err         string          `json:"error,omitempty"`
}

// Succeeded reports whether dependents of this task may start.
func (s TaskSummary) Succeeded() bool {
	return s.Verdict == VerdictOK
}

// Breakdown partitions summaries by verdict and by execution type.
type Breakdown struct {
	Summaries   []TaskSummary                       `json:"summaries"`
	ByVerdict   map[Verdict][]taskid.TaskName       `json:"by_verdict"`
	ByExecution map[ExecutionType][]taskid.TaskName `json:"by_execution"`
}

// NewBreakdown sorts summaries by task name and partitions them.
func NewBreakdown(summaries []TaskSummary) Breakdown {
	sorted := slices.Clone(summaries)
	slices.SortFunc(sorted, func(a, b TaskSummary) int { return a.Task.Compare(b.Task) })

	b := Breakdown{
		Summaries:   sorted,
		ByVerdict:   make(map[Verdict][]taskid.TaskName),
		ByExecution: make(map[ExecutionType][]taskid.TaskName),
	}
	for _, s := range sorted {
		b.ByVerdict[s.Verdict] = append(b.ByVerdict[s.Verdict], s.Task)
		b.ByExecution[s.Execution] = append(b.ByExecution[s.Execution], s.Task)
	}
	return b
}

// Count returns how many tasks ended with the given verdict and execution
// type. An empty argument matches anything.
func (b Breakdown) Count(v Verdict, e ExecutionType) int {
	n := 0
	for _, s := range b.Summaries {
		if (v == "" || s.Verdict == v) && (e == "" || s.Execution == e) {
			n++
		}
	}
	return n
}

// Overall aggregates task verdicts: any CRASH makes the run CRASH, else
// any FAIL makes it FAIL, else it is OK. Tasks that could not start carry
// no verdict of their own and are skipped; a task that ran but never
// resolved counts as FAIL.
func Overall(summaries []TaskSummary) Verdict {
	verdict := VerdictOK
	for _, s := range summaries {
		if s.Execution == ExecutionCannotStart {
			continue
		}
		switch s.Verdict {
		case VerdictCrash:
			return VerdictCrash
		case VerdictFail, VerdictUnknown:
			verdict = VerdictFail
		}
	}
	return verdict
}

// ExitCode maps a run verdict to a process exit code.
func (v Verdict) ExitCode() int {
	switch v {
	case VerdictOK:
		return 0
	case VerdictCrash:
		return 3
	default:
		return 1
	}
}
