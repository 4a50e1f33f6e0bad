package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/droidscout/pkg/domain"
)

const maxLabel = 48

// Overlay highlights the node the explorer currently stands on.
type Overlay struct {
	CurrentPage int
}

// PTGMermaid renders a Page Transition Graph as a Mermaid flowchart.
// Shapes:
// - Launch page: ((Circle))
// - Widget node: [[Subroutine]]
// - Page: [Rectangle]
// Edges looping back to their owner are drawn dotted. Unresolved edges are omitted.
func PTGMermaid(g *domain.PTG, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, n := range g.Nodes {
		id := pageID(n.Index)
		opener, closer := "[", "]"
		switch {
		case n.Index == 0:
			opener, closer = "((", "))"
		case n.Kind == domain.NodeKindWidget:
			opener, closer = "[[", "]]"
		}
		label := fmt.Sprintf("%d", n.Index)
		if n.FunctionDescription != "" {
			label += ": " + escapeLabel(n.FunctionDescription)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", id, opener, label, closer)

		for _, e := range n.Edges {
			if e.Target == nil {
				continue
			}
			desc := escapeLabel(e.Description)
			if *e.Target == n.Index {
				fmt.Fprintf(&sb, "    %s -. \"%s\" .-> %s\n", id, desc, id)
				continue
			}
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", id, desc, pageID(*e.Target))
		}
	}

	sb.WriteString("\n    %% Exploration state\n")
	// Force black text (color:#000) so labels stay readable on dark themes
	sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
	for _, n := range g.Nodes {
		if n.Visited && n.Kind == domain.NodeKindPage {
			fmt.Fprintf(&sb, "    class %s visited;\n", pageID(n.Index))
		}
	}
	if overlay != nil && g.Node(overlay.CurrentPage) != nil {
		fmt.Fprintf(&sb, "    class %s current;\n", pageID(overlay.CurrentPage))
	}
	return sb.String()
}

// FDGMermaid renders functional units with arrows from producer to consumer.
// Units selected for testing are highlighted.
func FDGMermaid(f *domain.FDG) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")

	for _, u := range f.Units {
		fmt.Fprintf(&sb, "    %s[\"%d: %s <br/> %d actions\"]\n",
			unitID(u.Index), u.Index, escapeLabel(u.FunctionDescription), len(u.ActionRefs))
	}
	for _, u := range f.Units {
		for _, p := range u.DataDependencies {
			label := escapeLabel(strings.Join(shared(f.Unit(p), u), ", "))
			if label == "" {
				fmt.Fprintf(&sb, "    %s --> %s\n", unitID(p), unitID(u.Index))
				continue
			}
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", unitID(p), label, unitID(u.Index))
		}
	}

	sb.WriteString("\n    classDef test fill:#e8f5e9,stroke:#2e7d32,stroke-width:2px,color:#000;\n")
	for _, u := range f.Units {
		if u.ToTest {
			fmt.Fprintf(&sb, "    class %s test;\n", unitID(u.Index))
		}
	}
	return sb.String()
}

// shared lists the data entities producer outputs and consumer takes in.
func shared(producer, consumer *domain.FunctionalUnit) []string {
	if producer == nil {
		return nil
	}
	in := make(map[string]bool, len(consumer.DataIn))
	for _, d := range consumer.DataIn {
		in[d] = true
	}
	var out []string
	for _, d := range producer.DataOut {
		if in[d] {
			out = append(out, d)
		}
	}
	return out
}

func pageID(i int) string { return fmt.Sprintf("p%d", i) }

func unitID(i int) string { return fmt.Sprintf("u%d", i) }

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxLabel {
		s = string(r[:maxLabel-1]) + "…"
	}
	return s
}
