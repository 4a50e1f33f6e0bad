package main

import (
	"fmt"

	"github.com/aretw0/droidscout/internal/presentation/graph"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <run-id>",
	Short: "Export a stored graph as a Mermaid diagram",
	Long: `Prints the PTG (graph TD) or, with --kind fdg, the FDG (graph LR) of a run as a
Mermaid flowchart. --current highlights one page of the PTG.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		_, _, rs, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rs.close()

		kind, _ := cmd.Flags().GetString("kind")
		ctx := cmd.Context()
		switch kind {
		case "ptg":
			ptg, err := rs.store.LoadPTG(ctx, runID)
			if err != nil {
				return fmt.Errorf("failed to load PTG: %w", err)
			}
			var overlay *graph.Overlay
			if cmd.Flags().Changed("current") {
				current, _ := cmd.Flags().GetInt("current")
				overlay = &graph.Overlay{CurrentPage: current}
			}
			fmt.Print(graph.PTGMermaid(ptg, overlay))
		case "fdg":
			fdg, err := rs.store.LoadFDG(ctx, runID)
			if err != nil {
				return fmt.Errorf("failed to load FDG: %w", err)
			}
			fmt.Print(graph.FDGMermaid(fdg))
		default:
			return fmt.Errorf("unknown graph kind %q (want ptg or fdg)", kind)
		}
		return nil
	},
}

func init() {
	graphCmd.Flags().String("kind", "ptg", "Graph to export: ptg or fdg")
	graphCmd.Flags().Int("current", 0, "Highlight this page of the PTG")
	rootCmd.AddCommand(graphCmd)
}
