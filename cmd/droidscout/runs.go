package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored exploration runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, rs, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rs.close()

		ctx := cmd.Context()
		runs, err := rs.store.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Run", "Bundle", "Pages", "Visited", "Units"})
		table.SetBorder(false)
		table.SetCenterSeparator("")
		for _, runID := range runs {
			ptg, err := rs.store.LoadPTG(ctx, runID)
			if err != nil {
				table.Append([]string{runID, "error: " + err.Error(), "", "", ""})
				continue
			}
			visited := 0
			for _, n := range ptg.Nodes {
				if n.Visited {
					visited++
				}
			}
			units := "-"
			if fdg, err := rs.store.LoadFDG(ctx, runID); err == nil {
				units = strconv.Itoa(len(fdg.Units))
			} else if !errors.Is(err, domain.ErrGraphNotFound) {
				units = "error"
			}
			table.Append([]string{runID, ptg.Bundle, strconv.Itoa(ptg.Len()), strconv.Itoa(visited), units})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
}
