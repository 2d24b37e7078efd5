package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/vk/monogrid/internal/executor"
	"github.com/vk/monogrid/internal/report"
	"github.com/vk/monogrid/internal/taskgraph"
)

// printSummary writes one line per task followed by the breakdown.
func printSummary(w io.Writer, res *executor.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range res.Summaries {
		line := fmt.Sprintf("%s\t%s\t%s\t%s", s.Task, s.Verdict, s.Execution, s.Duration.Round(time.Millisecond))
		if s.Err != "" {
			line += "\t" + s.Err
		}
		fmt.Fprintln(tw, line)
	}
	tw.Flush()

	b := res.Breakdown
	fmt.Fprintf(w, "\n%s: %d executed, %d cached, %d cannot start, %d failed, %d crashed in %s (run %s)\n",
		res.Verdict,
		b.Count("", report.ExecutionExecuted),
		b.Count("", report.ExecutionCached),
		b.Count("", report.ExecutionCannotStart),
		b.Count(report.VerdictFail, ""),
		b.Count(report.VerdictCrash, ""),
		res.Duration.Round(time.Millisecond),
		res.RunID,
	)
}

// printGraph writes every task with its deps, inputs and outputs.
func printGraph(w io.Writer, g *taskgraph.Graph) {
	for _, t := range g.Tasks() {
		fmt.Fprintln(w, t.Name)
		if len(t.Deps) > 0 {
			deps := make([]string, len(t.Deps))
			for i, d := range t.Deps {
				deps[i] = d.String()
			}
			fmt.Fprintf(w, "  deps:    %s\n", strings.Join(deps, ", "))
		}
		if len(t.Inputs) > 0 {
			in := make([]string, len(t.Inputs))
			for i, p := range t.Inputs {
				in[i] = p.String()
			}
			fmt.Fprintf(w, "  inputs:  %s\n", strings.Join(in, ", "))
		}
		if len(t.Outputs) > 0 {
			out := make([]string, len(t.Outputs))
			for i, o := range t.Outputs {
				out[i] = fmt.Sprintf("%s (%s)", o.Path, o.Purge)
			}
			fmt.Fprintf(w, "  outputs: %s\n", strings.Join(out, ", "))
		}
		if !t.UseCaching {
			fmt.Fprintln(w, "  caching: off")
		}
	}
}
