package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/aretw0/droidscout/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve stored runs to MCP clients",
	Long: `Starts a Model Context Protocol server exposing the stored runs read-only.
Tools: list_runs, list_units, get_document, get_graph. Resource: droidscout://runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, rs, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rs.close()

		srv := mcp.NewServer(rs.store, logger)
		if transport, _ := cmd.Flags().GetString("transport"); transport == "sse" {
			port, _ := cmd.Flags().GetInt("port")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ServeSSE(ctx, port)
		}
		return srv.ServeStdio()
	},
}

func init() {
	mcpCmd.Flags().String("transport", "stdio", "Transport: stdio or sse")
	mcpCmd.Flags().Int("port", 8081, "Port of the SSE transport")
	rootCmd.AddCommand(mcpCmd)
}
