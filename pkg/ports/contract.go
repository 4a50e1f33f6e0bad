package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SamplePTG builds a small three-page graph with a leaf, a resolved edge and an unresolved edge.
func SamplePTG() *domain.PTG {
	g := domain.NewPTG("com.example.notes")
	home := g.AddPage(&domain.Snapshot{
		Image:                 []byte("\x89PNG-home"),
		Width:                 1080,
		Height:                2400,
		Structure:             []byte("<hierarchy><node class=\"Home\"/></hierarchy>"),
		StructuralFingerprint: "f00d",
		PerceptualHash:        0xF0F0,
		ContainerIdentity:     ".HomeActivity",
		Bundle:                "com.example.notes",
	})
	home.FunctionDescription = "Note list"
	home.Visited = true

	editor := g.AddPage(&domain.Snapshot{
		Image:             []byte("\x89PNG-editor"),
		Width:             1080,
		Height:            2400,
		ContainerIdentity: ".EditorActivity",
		Bundle:            "com.example.notes",
	})
	editor.FunctionDescription = "Edit a note"

	settings := g.AddPage(nil)
	settings.FunctionDescription = "Settings"

	home.Edges = []domain.Edge{
		{Description: "Search", Action: domain.ActionClick, Position: &domain.Point{X: 100, Y: 200}, IsLeaf: true},
		{Description: "New note", Action: domain.ActionClick, Position: &domain.Point{X: 980, Y: 2200}, Postcondition: "Editor opens"},
		{Description: "Settings", Action: domain.ActionLongClick},
	}
	home.Edges[0].Bind(home.Index)
	home.Edges[1].Bind(editor.Index)

	editor.Edges = []domain.Edge{
		{Description: "Title", Action: domain.ActionInput, Position: &domain.Point{X: 540, Y: 300}, Content: "groceries"},
	}
	return g
}

// RunGraphStoreContract runs a suite of tests to verify that a GraphStore implementation
// adheres to the defined interface contract.
func RunGraphStoreContract(t *testing.T, store GraphStore) {
	ctx := context.Background()
	runID := "contract-run-" + time.Now().Format("20060102150405")

	t.Run("Save and Load PTG", func(t *testing.T) {
		ptg := SamplePTG()
		require.NoError(t, store.SavePTG(ctx, runID, ptg))

		loaded, err := store.LoadPTG(ctx, runID)
		require.NoError(t, err)

		assert.Equal(t, ptg.Bundle, loaded.Bundle)
		assert.Equal(t, ptg.ExploredContainers, loaded.ExploredContainers)
		require.Equal(t, ptg.Len(), loaded.Len())
		for i, want := range ptg.Nodes {
			got := loaded.Nodes[i]
			assert.Equal(t, want.Index, got.Index)
			assert.Equal(t, want.Kind, got.Kind)
			assert.Equal(t, want.FunctionDescription, got.FunctionDescription)
			assert.Equal(t, want.Visited, got.Visited)
			assert.Equal(t, want.Edges, got.Edges, "edges of node %d", i)
			if want.Snapshot == nil {
				assert.Nil(t, got.Snapshot)
				continue
			}
			require.NotNil(t, got.Snapshot)
			assert.Equal(t, want.Snapshot.ContainerIdentity, got.Snapshot.ContainerIdentity)
			assert.Equal(t, want.Snapshot.Image, got.Snapshot.Image)
			assert.Equal(t, want.Snapshot.PerceptualHash, got.Snapshot.PerceptualHash)
		}
		assert.Equal(t, []int{0}, loaded.Candidates(".HomeActivity"))
	})

	t.Run("Save and Load FDG", func(t *testing.T) {
		fdg := &domain.FDG{Units: []*domain.FunctionalUnit{
			{Index: 0, FunctionDescription: "Root", ActionRefs: []domain.ActionRef{{PageIndex: 0, EdgeIndex: 0}}},
			{
				Index:               1,
				FunctionDescription: "Create note",
				ActionRefs:          []domain.ActionRef{{PageIndex: 0, EdgeIndex: 1}, {PageIndex: 1, EdgeIndex: 0}},
				DataOut:             []string{"note"},
				DataDependencies:    []int{0},
				ToTest:              true,
				CoreLogic:           map[string]any{"entry_page": "Note list"},
			},
		}}
		require.NoError(t, store.SaveFDG(ctx, runID, fdg))

		loaded, err := store.LoadFDG(ctx, runID)
		require.NoError(t, err)
		require.Len(t, loaded.Units, 2)
		assert.Equal(t, fdg.Units[1].ActionRefs, loaded.Units[1].ActionRefs)
		assert.Equal(t, []int{0}, loaded.Units[1].DataDependencies)
		assert.Equal(t, "Note list", loaded.Units[1].CoreLogic["entry_page"])
		assert.Nil(t, loaded.Units[0].CoreLogic)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.LoadPTG(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrGraphNotFound)
		_, err = store.LoadFDG(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrGraphNotFound)
	})

	t.Run("List", func(t *testing.T) {
		id2 := runID + "-2"
		require.NoError(t, store.SavePTG(ctx, id2, SamplePTG()))

		runs, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, runs, runID)
		assert.Contains(t, runs, id2)
	})
}
