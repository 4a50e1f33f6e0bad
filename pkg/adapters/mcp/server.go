// Package mcp exposes stored exploration runs to MCP clients, so an assistant
// can browse the PTG and FDG of a run while writing or triaging tests.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/droidscout"
	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/internal/presentation/graph"
	httpAdapter "github.com/aretw0/droidscout/pkg/adapters/http"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RunsURI is the resource listing every stored run.
const RunsURI = "droidscout://runs"

// RunArgs selects a run.
type RunArgs struct {
	RunID string `json:"run_id"`
}

// RunsResponse is the structured result of list_runs.
type RunsResponse struct {
	Runs []string `json:"runs" jsonschema_description:"IDs of the stored runs"`
}

// UnitSummary is one row of list_units.
type UnitSummary struct {
	Index        int      `json:"index"`
	Description  string   `json:"description"`
	Actions      int      `json:"actions" jsonschema_description:"Number of PTG actions in the unit"`
	DataIn       []string `json:"data_in"`
	DataOut      []string `json:"data_out"`
	Dependencies []int    `json:"data_dependencies" jsonschema_description:"Units whose output this unit consumes"`
	ToTest       bool     `json:"to_test"`
}

// UnitsResponse is the structured result of list_units.
type UnitsResponse struct {
	RunID string        `json:"run_id"`
	Units []UnitSummary `json:"units"`
}

// Server wraps a GraphStore and exposes it as an MCP Server.
type Server struct {
	store     ports.GraphStore
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP Server instance over store.
func NewServer(store ports.GraphStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		store:     store,
		mcpServer: server.NewMCPServer("droidscout-mcp", strings.TrimSpace(droidscout.Version)),
		logger:    logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on port until ctx is canceled.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	s.logger.Info("MCP Server listening (SSE)", "address", addr)
	return httpAdapter.ServeUntil(ctx, &http.Server{Addr: addr, Handler: mux}, 5*time.Second)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List the IDs of the stored exploration runs."),
		mcp.WithOutputSchema[RunsResponse](),
	), mcp.NewStructuredToolHandler(s.handleListRuns))

	s.mcpServer.AddTool(mcp.NewTool("list_units",
		mcp.WithDescription("List the functional units of a run with their data flow and test selection."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithOutputSchema[UnitsResponse](),
	), mcp.NewStructuredToolHandler(s.handleListUnits))

	s.mcpServer.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Get the raw PTG or FDG document of a run as JSON."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithString("kind", mcp.Description("ptg (default) or fdg")),
	), s.handleGetDocument)

	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Render the PTG or FDG of a run as a Mermaid flowchart."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithString("kind", mcp.Description("ptg (default) or fdg")),
	), s.handleGetGraph)
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunsResponse, error) {
	runs, err := s.store.List(ctx)
	if err != nil {
		return RunsResponse{}, fmt.Errorf("failed to list runs: %w", err)
	}
	if runs == nil {
		runs = []string{}
	}
	return RunsResponse{Runs: runs}, nil
}

func (s *Server) handleListUnits(ctx context.Context, request mcp.CallToolRequest, args RunArgs) (UnitsResponse, error) {
	fdg, err := s.store.LoadFDG(ctx, args.RunID)
	if err != nil {
		return UnitsResponse{}, fmt.Errorf("failed to load FDG of %s: %w", args.RunID, err)
	}
	resp := UnitsResponse{RunID: args.RunID, Units: make([]UnitSummary, 0, len(fdg.Units))}
	for _, u := range fdg.Units {
		resp.Units = append(resp.Units, UnitSummary{
			Index:        u.Index,
			Description:  u.FunctionDescription,
			Actions:      len(u.ActionRefs),
			DataIn:       nonNil(u.DataIn),
			DataOut:      nonNil(u.DataOut),
			Dependencies: append([]int{}, u.DataDependencies...),
			ToTest:       u.ToTest,
		})
	}
	return resp, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Server) handleGetDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID == "" {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	var (
		data []byte
		err  error
	)
	switch kind := request.GetString("kind", "ptg"); kind {
	case "ptg":
		var ptg *domain.PTG
		if ptg, err = s.store.LoadPTG(ctx, runID); err == nil {
			doc, _ := dto.EncodePTG(ptg)
			data, err = json.Marshal(doc)
		}
	case "fdg":
		var fdg *domain.FDG
		if fdg, err = s.store.LoadFDG(ctx, runID); err == nil {
			data, err = json.Marshal(dto.EncodeFDG(fdg))
		}
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown kind %q (want ptg or fdg)", kind)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load %s: %v", runID, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetGraph(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID == "" {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	switch kind := request.GetString("kind", "ptg"); kind {
	case "ptg":
		ptg, err := s.store.LoadPTG(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load PTG of %s: %v", runID, err)), nil
		}
		return mcp.NewToolResultText(graph.PTGMermaid(ptg, nil)), nil
	case "fdg":
		fdg, err := s.store.LoadFDG(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load FDG of %s: %v", runID, err)), nil
		}
		return mcp.NewToolResultText(graph.FDGMermaid(fdg)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown kind %q (want ptg or fdg)", kind)), nil
	}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(RunsURI, "Stored exploration runs",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		resp, err := s.handleListRuns(ctx, mcp.CallToolRequest{}, nil)
		if err != nil {
			return nil, err
		}
		jsonBytes, _ := json.Marshal(resp)

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      RunsURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
