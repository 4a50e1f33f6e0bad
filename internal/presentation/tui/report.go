package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/droidscout/pkg/domain"
)

// Report renders a stored run as Markdown. fdg may be nil.
func Report(runID string, ptg *domain.PTG, fdg *domain.FDG) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run %s\n\n", runID)
	fmt.Fprintf(&sb, "Application: `%s`\n\n", ptg.Bundle)

	visited, edges := 0, 0
	for _, n := range ptg.Nodes {
		if n.Visited {
			visited++
		}
		edges += len(n.Edges)
	}
	fmt.Fprintf(&sb, "%d pages (%d visited), %d actions.\n\n", ptg.Len(), visited, edges)

	sb.WriteString("## Pages\n\n")
	sb.WriteString("| # | Function | Container | Actions | Visited |\n")
	sb.WriteString("|---|----------|-----------|---------|---------|\n")
	for _, n := range ptg.Nodes {
		container := ""
		if n.Snapshot != nil {
			container = n.Snapshot.ContainerIdentity
		}
		mark := ""
		if n.Visited {
			mark = "yes"
		}
		fmt.Fprintf(&sb, "| %d | %s | %s | %d | %s |\n",
			n.Index, cell(n.FunctionDescription), cell(container), len(n.Edges), mark)
	}

	if fdg == nil {
		sb.WriteString("\n_No functional dependency graph yet._\n")
		return sb.String()
	}

	sb.WriteString("\n## Functional units\n\n")
	sb.WriteString("| # | Function | Actions | Consumes | Produces | Depends on | Test |\n")
	sb.WriteString("|---|----------|---------|----------|----------|------------|------|\n")
	for _, u := range fdg.Units {
		deps := make([]string, len(u.DataDependencies))
		for i, d := range u.DataDependencies {
			deps[i] = fmt.Sprint(d)
		}
		mark := ""
		if u.ToTest {
			mark = "yes"
		}
		fmt.Fprintf(&sb, "| %d | %s | %d | %s | %s | %s | %s |\n",
			u.Index, cell(u.FunctionDescription), len(u.ActionRefs),
			cell(strings.Join(u.DataIn, ", ")), cell(strings.Join(u.DataOut, ", ")),
			strings.Join(deps, ", "), mark)
	}
	return sb.String()
}

// cell keeps a value on one table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}
