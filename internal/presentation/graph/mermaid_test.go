package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/droidscout/internal/presentation/graph"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func samplePTG() *domain.PTG {
	g := domain.NewPTG("com.notes")
	root := g.AddPage(&domain.Snapshot{ContainerIdentity: "Main"})
	root.FunctionDescription = `Note "list"`
	root.Visited = true
	editor := g.AddPage(&domain.Snapshot{ContainerIdentity: "Editor"})
	editor.FunctionDescription = "Edit a note"
	widget := g.AddWidget(editor, "Pin toggle")

	toggle := domain.Edge{Description: "Sort", IsLeaf: true}
	toggle.Bind(root.Index)
	open := domain.Edge{Description: "Open note"}
	open.Bind(editor.Index)
	pending := domain.Edge{Description: "Search"}
	root.Edges = []domain.Edge{toggle, open, pending}

	pin := domain.Edge{Description: "Pin", IsLeaf: true}
	pin.Bind(widget.Index)
	editor.Edges = []domain.Edge{pin}
	return g
}

func TestPTGMermaid(t *testing.T) {
	out := graph.PTGMermaid(samplePTG(), &graph.Overlay{CurrentPage: 1})

	for _, want := range []string{
		"graph TD",
		`p0(("0: Note 'list'"))`,
		`p1["1: Edit a note"]`,
		`p2[["2: Pin toggle"]]`,
		`p0 -. "Sort" .-> p0`,
		`p0 -- "Open note" --> p1`,
		`p1 -- "Pin" --> p2`,
		"class p0 visited;",
		"class p1 current;",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Search", "unresolved edges are omitted")
	assert.NotContains(t, out, "class p2 visited;", "widget nodes are not styled")
}

func TestFDGMermaid(t *testing.T) {
	f := &domain.FDG{Units: []*domain.FunctionalUnit{
		{Index: 0, FunctionDescription: "Browse notes", ActionRefs: []domain.ActionRef{{PageIndex: 0, EdgeIndex: 0}}},
		{Index: 1, FunctionDescription: "Create note", DataOut: []string{"note"}, ToTest: true,
			ActionRefs: []domain.ActionRef{{PageIndex: 0, EdgeIndex: 1}, {PageIndex: 1, EdgeIndex: 0}}},
		{Index: 2, FunctionDescription: "Share note", DataIn: []string{"note"}, ToTest: true,
			DataDependencies: []int{1}},
		{Index: 3, FunctionDescription: strings.Repeat("x", 80), DataDependencies: []int{0}},
	}}

	out := graph.FDGMermaid(f)

	assert.True(t, strings.HasPrefix(out, "graph LR\n"))
	assert.Contains(t, out, `u1["1: Create note <br/> 2 actions"]`)
	assert.Contains(t, out, `u1 -- "note" --> u2`)
	assert.Contains(t, out, "u0 --> u3")
	assert.Contains(t, out, "class u2 test;")
	assert.NotContains(t, out, "class u0 test;")
	assert.Contains(t, out, strings.Repeat("x", 47)+"…")
}
