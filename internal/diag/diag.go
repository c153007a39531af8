// Package diag renders the failure report shown when a run times out.
package diag

import (
	"fmt"
	"strings"

	"github.com/roach88/storetest/action"
	"github.com/roach88/storetest/effect"
)

// Report renders the header, the action log and the effect log. The header
// names the last issued instruction, which is the one the run was waiting on.
func Report(effects []effect.Instruction, actions []*action.Action) string {
	var buf strings.Builder
	buf.WriteString(Header(effects))
	buf.WriteString("\n\n")
	buf.WriteString(Actions(actions))
	buf.WriteString("\n")
	buf.WriteString(Effects(effects))
	return buf.String()
}

// Header names the unresolved instruction.
func Header(effects []effect.Instruction) string {
	if len(effects) == 0 {
		return "No effects found"
	}
	return fmt.Sprintf("Effect %s was not handled", effects[len(effects)-1])
}

// Actions lists action types, 1-indexed.
func Actions(actions []*action.Action) string {
	lines := make([]string, len(actions))
	for i, a := range actions {
		lines[i] = a.Type
	}
	return section("Caught actions", lines)
}

// Effects lists issued instructions, 1-indexed.
func Effects(effects []effect.Instruction) string {
	lines := make([]string, len(effects))
	for i, in := range effects {
		lines[i] = in.String()
	}
	return section("Effects", lines)
}

func section(title string, lines []string) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s (%d):\n", title, len(lines))
	if len(lines) == 0 {
		buf.WriteString("  (none)\n")
	}
	for i, line := range lines {
		fmt.Fprintf(&buf, "  %d. %s\n", i+1, line)
	}
	return buf.String()
}
