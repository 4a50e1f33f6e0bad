package domain_test

import (
	"testing"

	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPTG_ArenaAndBuckets(t *testing.T) {
	g := domain.NewPTG("com.example")

	home := g.AddPage(&domain.Snapshot{ContainerIdentity: ".Main"})
	detail := g.AddPage(&domain.Snapshot{ContainerIdentity: ".Detail"})
	again := g.AddPage(&domain.Snapshot{ContainerIdentity: ".Main"})
	widget := g.AddWidget(home, "Share button")

	assert.Equal(t, []int{0, 1, 2, 3}, []int{home.Index, detail.Index, again.Index, widget.Index})
	assert.Equal(t, []int{0, 2}, g.Candidates(".Main"))
	assert.Equal(t, []string{".Main", ".Detail"}, g.ExploredContainers)
	assert.Same(t, home.Snapshot, widget.Snapshot)
	assert.Nil(t, g.Node(4))

	t.Run("Reindex restores buckets", func(t *testing.T) {
		decoded := &domain.PTG{Nodes: g.Nodes}
		decoded.Reindex()
		assert.Equal(t, []int{0, 2}, decoded.Candidates(".Main"))
		assert.Equal(t, []int{1}, decoded.Candidates(".Detail"))
		assert.ElementsMatch(t, []string{".Main", ".Detail"}, decoded.ExploredContainers)
	})
}

func TestEdge_Demote(t *testing.T) {
	e := domain.Edge{Description: "Open settings", Action: domain.ActionClick}
	e.Demote(4)
	require.NotNil(t, e.Target)
	assert.True(t, e.IsLeaf)
	assert.Equal(t, 4, *e.Target)
}

func TestParseActionKind(t *testing.T) {
	cases := map[string]domain.ActionKind{
		"click":      domain.ActionClick,
		"long_click": domain.ActionLongClick,
		"LongClick":  domain.ActionLongClick,
		"input":      domain.ActionInput,
		"scroll":     domain.ActionScroll,
		"press_back": domain.ActionPressBack,
		"tap":        domain.ActionClick,
	}
	for in, want := range cases {
		assert.Equal(t, want, domain.ParseActionKind(in), in)
	}
}

func TestAppendUnique(t *testing.T) {
	got := domain.AppendUnique([]string{"user"}, "token", "user", "", "token", "profile")
	assert.Equal(t, []string{"user", "token", "profile"}, got)
}

func TestPTG_ShortestPath(t *testing.T) {
	g := domain.NewPTG("com.example")
	pages := make([]*domain.PageNode, 4)
	for i := range pages {
		pages[i] = g.AddPage(&domain.Snapshot{})
	}
	link := func(from, to int, leaf bool) {
		e := domain.Edge{Description: "go", IsLeaf: leaf}
		e.Bind(to)
		pages[from].Edges = append(pages[from].Edges, e)
	}
	link(0, 3, true)
	link(0, 1, false)
	link(0, 2, false)
	link(1, 3, false)
	link(2, 3, false)
	widget := g.AddWidget(pages[2], "toggle")
	link(2, widget.Index, false)

	steps, ok := g.ShortestPath(0, 3)
	require.True(t, ok)
	assert.Equal(t, []domain.Step{{PageIndex: 0, EdgeIndex: 1}, {PageIndex: 1, EdgeIndex: 0}}, steps)

	steps, ok = g.ShortestPath(2, 2)
	assert.True(t, ok)
	assert.Empty(t, steps)

	_, ok = g.ShortestPath(3, 0)
	assert.False(t, ok, "no edge leads back up")
	_, ok = g.ShortestPath(0, widget.Index)
	assert.False(t, ok, "widget nodes are not navigation targets")
}
