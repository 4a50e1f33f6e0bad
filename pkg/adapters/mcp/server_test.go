package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/aretw0/droidscout/pkg/adapters/memory"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) *Server {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.SavePTG(ctx, "run-1", ports.SamplePTG()))
	require.NoError(t, store.SaveFDG(ctx, "run-1", &domain.FDG{Units: []*domain.FunctionalUnit{
		{Index: 0, FunctionDescription: "Browse notes", ActionRefs: []domain.ActionRef{{PageIndex: 0, EdgeIndex: 1}}, DataOut: []string{"note"}, ToTest: true},
		{Index: 1, FunctionDescription: "Share", DataIn: []string{"note"}, DataDependencies: []int{0}},
	}}))
	return NewServer(store, nil)
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func TestListRuns(t *testing.T) {
	s := seeded(t)
	resp, err := s.handleListRuns(context.Background(), call(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, resp.Runs)

	empty := NewServer(memory.NewStore(), nil)
	resp, err = empty.handleListRuns(context.Background(), call(nil), nil)
	require.NoError(t, err)
	assert.NotNil(t, resp.Runs)
	assert.Empty(t, resp.Runs)
}

func TestListUnits(t *testing.T) {
	s := seeded(t)
	resp, err := s.handleListUnits(context.Background(), call(nil), RunArgs{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, resp.Units, 2)
	assert.Equal(t, UnitSummary{
		Index:        0,
		Description:  "Browse notes",
		Actions:      1,
		DataIn:       []string{},
		DataOut:      []string{"note"},
		Dependencies: []int{},
		ToTest:       true,
	}, resp.Units[0])
	assert.Equal(t, []int{0}, resp.Units[1].Dependencies)

	_, err = s.handleListUnits(context.Background(), call(nil), RunArgs{RunID: "missing"})
	assert.ErrorIs(t, err, domain.ErrGraphNotFound)
}

func TestGetGraph(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	res, err := s.handleGetGraph(ctx, call(map[string]any{"run_id": "run-1"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.True(t, strings.HasPrefix(text(t, res), "graph TD"))

	res, err = s.handleGetGraph(ctx, call(map[string]any{"run_id": "run-1", "kind": "fdg"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `u0 -- "note" --> u1`)

	res, err = s.handleGetGraph(ctx, call(map[string]any{"run_id": "run-1", "kind": "tree"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleGetGraph(ctx, call(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestGetDocument(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	res, err := s.handleGetDocument(ctx, call(map[string]any{"run_id": "run-1"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"applicationBundle":"com.example.notes"`)

	res, err = s.handleGetDocument(ctx, call(map[string]any{"run_id": "run-1", "kind": "fdg"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"dataDependencies":[0]`)

	res, err = s.handleGetDocument(ctx, call(map[string]any{"run_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
