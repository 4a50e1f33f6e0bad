package main

import (
	"fmt"
	"os"

	"github.com/aretw0/droidscout"
	"github.com/aretw0/droidscout/pkg/adapters/gemini"
	"github.com/spf13/cobra"
)

var fdgCmd = &cobra.Command{
	Use:   "fdg <run-id>",
	Short: "Rebuild the Functional Dependency Graph of a stored run",
	Long:  `Loads the PTG of a finished run, builds its FDG again with the classifier and stores it next to the PTG.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		cfg, logger, rs, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rs.close()

		ctx := cmd.Context()
		ptg, err := rs.store.LoadPTG(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", runID, err)
		}
		if cfg.App.Bundle == "" {
			cfg.App.Bundle = ptg.Bundle
		}

		apiKey := os.Getenv(cfg.Classifier.APIKeyEnv)
		if apiKey == "" {
			return fmt.Errorf("%s is not set", cfg.Classifier.APIKeyEnv)
		}
		classifier, err := gemini.New(ctx, apiKey, gemini.WithModel(cfg.Classifier.Model))
		if err != nil {
			return err
		}

		// Rebuilding only reads the stored screens; no device is driven.
		engine, err := droidscout.New(nil, classifier, rs.engineOptions(cfg, logger)...)
		if err != nil {
			return err
		}
		graph, err := engine.BuildFDG(ctx, runID)
		if err != nil {
			return err
		}
		fmt.Printf("Built %d functional units for run %s\n", len(graph.Units), runID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fdgCmd)
}
