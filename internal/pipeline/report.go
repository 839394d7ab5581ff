package pipeline

import (
	"fmt"
	"strings"
)

// FormatReport renders a cycle report for terminal output.
func FormatReport(r *CycleReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Cycle: %s\n", r.Kind)
	fmt.Fprintf(&b, "Started: %s\n", r.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if r.Skipped {
		b.WriteString("Skipped: a cycle of this kind is already running.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Duration: %dms\n\n", r.DurationMs)

	b.WriteString("## Stages\n")
	for _, s := range r.Stages {
		fmt.Fprintf(&b, "- %s: selected=%d processed=%d skipped=%d failed=%d (%dms)\n",
			s.Name, s.Selected, s.Processed, s.Skipped, s.Failed, s.DurationMs)
		if s.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", s.Error)
		}
	}
	if r.Failed() {
		fmt.Fprintf(&b, "\nCycle stopped early: %s\n", r.Err)
	}
	return b.String()
}
