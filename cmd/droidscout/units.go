package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var unitsCmd = &cobra.Command{
	Use:   "units <run-id>",
	Short: "List the functional units of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, rs, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rs.close()

		fdg, err := rs.store.LoadFDG(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load FDG: %w", err)
		}
		if len(fdg.Units) == 0 {
			fmt.Println("No functional units.")
			return nil
		}
		renderUnits(fdg)
		return nil
	},
}

func renderUnits(fdg *domain.FDG) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Function", "Actions", "Data in", "Data out", "Depends on", "Test"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	tested := 0
	for _, u := range fdg.Units {
		test := ""
		if u.ToTest {
			test = "yes"
			tested++
		}
		deps := make([]string, len(u.DataDependencies))
		for i, d := range u.DataDependencies {
			deps[i] = strconv.Itoa(d)
		}
		table.Append([]string{
			strconv.Itoa(u.Index),
			u.FunctionDescription,
			strconv.Itoa(len(u.ActionRefs)),
			strings.Join(u.DataIn, ", "),
			strings.Join(u.DataOut, ", "),
			strings.Join(deps, ", "),
			test,
		})
	}
	table.SetFooter([]string{"", fmt.Sprintf("%d units", len(fdg.Units)), "", "", "", "", fmt.Sprintf("%d", tested)})
	table.Render()
}

func init() {
	rootCmd.AddCommand(unitsCmd)
}
