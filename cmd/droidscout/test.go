package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/aretw0/droidscout"
	"github.com/aretw0/droidscout/pkg/adapters/adb"
	"github.com/aretw0/droidscout/pkg/adapters/gemini"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test <run-id>",
	Short: "Run task-level tests of the functional units of a run",
	Long: `Replays the stored PTG to the entry page of each selected functional unit and lets the
classifier carry out the unit's task on the device. Every recorded path is judged for bugs;
bundles are written as test-bug<N> next to the run.

Without --unit, every unit marked for testing is run. With a catalog, the selection is
read from the unit documents, so editing to_test there changes what runs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		cfg, logger, rs, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rs.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		flags := cmd.Flags()
		if flags.Changed("serial") {
			cfg.Device.Serial, _ = flags.GetString("serial")
		}
		if flags.Changed("max-steps") {
			cfg.Test.MaxSteps, _ = flags.GetInt("max-steps")
		}
		if cfg.App.Bundle == "" {
			ptg, err := rs.store.LoadPTG(ctx, runID)
			if err != nil {
				return fmt.Errorf("failed to load run %s: %w", runID, err)
			}
			cfg.App.Bundle = ptg.Bundle
		}
		units, _ := flags.GetIntSlice("unit")

		apiKey := os.Getenv(cfg.Classifier.APIKeyEnv)
		if apiKey == "" {
			return fmt.Errorf("%s is not set", cfg.Classifier.APIKeyEnv)
		}
		classifier, err := gemini.New(ctx, apiKey, gemini.WithModel(cfg.Classifier.Model))
		if err != nil {
			return err
		}
		device := adb.New(cfg.Device.ADBPath, cfg.Device.Serial, adb.WithLogger(logger))

		engine, err := droidscout.New(device, classifier, rs.engineOptions(cfg, logger)...)
		if err != nil {
			return err
		}
		report, err := engine.TestUnits(ctx, runID, units...)
		if report != nil {
			renderTests(report)
		}
		return err
	},
}

func renderTests(r *droidscout.TestReport) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Unit", "Entry", "Steps", "Finished", "Variants"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	for _, res := range r.Results {
		entry := strconv.Itoa(res.EntryPage)
		if !res.Reached {
			entry += " (unreached)"
		}
		finished := "no"
		if res.Finished {
			finished = "yes"
		}
		table.Append([]string{
			strconv.Itoa(res.Unit),
			entry,
			strconv.Itoa(len(res.Steps)),
			finished,
			strconv.Itoa(len(res.Variants)),
		})
	}
	table.SetFooter([]string{"", "", "", fmt.Sprintf("%d bugs", r.Bugs), ""})
	table.Render()
}

func init() {
	testCmd.Flags().IntSlice("unit", nil, "Unit indices to test (default: units marked for testing)")
	testCmd.Flags().String("serial", "", "adb serial of the device")
	testCmd.Flags().Int("max-steps", 0, "Maximum classifier-driven steps per unit")
	rootCmd.AddCommand(testCmd)
}
