package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/aretw0/droidscout/internal/presentation/tui"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Summarize a stored run",
	Long:  `Prints the pages and functional units of a run as Markdown, styled when stdout is a terminal.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		_, _, rs, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rs.close()

		ctx := cmd.Context()
		ptg, err := rs.store.LoadPTG(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to load PTG: %w", err)
		}
		fdg, err := rs.store.LoadFDG(ctx, runID)
		if errors.Is(err, domain.ErrGraphNotFound) {
			fdg, err = nil, nil
		}
		if err != nil {
			return fmt.Errorf("failed to load FDG: %w", err)
		}

		md := tui.Report(runID, ptg, fdg)
		raw, _ := cmd.Flags().GetBool("raw")
		fd := int(os.Stdout.Fd())
		if raw || !term.IsTerminal(fd) {
			fmt.Print(md)
			return nil
		}

		width := 100
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			width = w
		}
		render, err := tui.NewRenderer(width)
		if err != nil {
			return err
		}
		out, err := render(md)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("raw", false, "Print plain Markdown even on a terminal")
	rootCmd.AddCommand(reportCmd)
}
