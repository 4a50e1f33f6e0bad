package dto_test

import (
	"fmt"
	"testing"

	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loaderFor(assets dto.Assets) dto.AssetLoader {
	return func(rel string) ([]byte, error) {
		data, ok := assets[rel]
		if !ok {
			return nil, fmt.Errorf("missing asset %s", rel)
		}
		return data, nil
	}
}

func TestPTG_RoundTripIsomorphic(t *testing.T) {
	g := ports.SamplePTG()
	widget := g.AddWidget(g.Nodes[0], "Search")
	g.Nodes[0].Edges[0].Bind(widget.Index)

	doc, assets := dto.EncodePTG(g)
	assert.Contains(t, assets, "pages/0/screenshot.png")
	assert.Contains(t, assets, "pages/0/structure.xml")
	assert.NotContains(t, assets, "pages/2/screenshot.png")

	decoded, err := dto.DecodePTG(doc, loaderFor(assets))
	require.NoError(t, err)

	diff := cmp.Diff(g, decoded,
		cmpopts.IgnoreUnexported(domain.PTG{}),
		cmpopts.EquateEmpty(),
	)
	assert.Empty(t, diff)
	assert.Same(t, decoded.Nodes[0].Snapshot, decoded.Nodes[widget.Index].Snapshot)
}

func TestDecodePTG_RejectsDanglingTarget(t *testing.T) {
	target := 7
	doc := &dto.PTGDocument{Nodes: []dto.PageNode{
		{Index: 0, Kind: "page", Edges: []dto.Edge{{Description: "x", ActionKind: "click", Target: &target}}},
	}}
	_, err := dto.DecodePTG(doc, nil)
	assert.Error(t, err)
}

func TestFDG_RoundTrip(t *testing.T) {
	f := &domain.FDG{Units: []*domain.FunctionalUnit{
		{Index: 0, FunctionDescription: "Root", ActionRefs: []domain.ActionRef{{PageIndex: 0, EdgeIndex: 1}}},
		{Index: 1, FunctionDescription: "Login", DataOut: []string{"session"}, DataDependencies: []int{0}, ToTest: true},
	}}
	back := dto.DecodeFDG(dto.EncodeFDG(f))
	assert.Empty(t, cmp.Diff(f, back, cmpopts.EquateEmpty()))
}
