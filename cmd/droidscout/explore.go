package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/droidscout"
	"github.com/aretw0/droidscout/internal/presentation/tui"
	"github.com/aretw0/droidscout/pkg/adapters/adb"
	"github.com/aretw0/droidscout/pkg/adapters/gemini"
	httpAdapter "github.com/aretw0/droidscout/pkg/adapters/http"
	"github.com/aretw0/droidscout/pkg/observability"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Explore an application on a connected device",
	Long: `Launches the application on the device, explores it depth-first until every reachable
screen has been visited or a budget runs out, then builds and stores the PTG and FDG.

With --listen, run documents, Prometheus metrics and a live event stream
(GET /events?run_id=...) are served while the exploration runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, rs, err := setup(cmd)
		if err != nil {
			return err
		}
		defer rs.close()

		flags := cmd.Flags()
		if flags.Changed("bundle") {
			cfg.App.Bundle, _ = flags.GetString("bundle")
		}
		if flags.Changed("app") {
			cfg.App.Name, _ = flags.GetString("app")
		}
		if flags.Changed("serial") {
			cfg.Device.Serial, _ = flags.GetString("serial")
		}
		if flags.Changed("depth") {
			cfg.Explore.DepthLimit, _ = flags.GetInt("depth")
		}
		if flags.Changed("time-limit") {
			cfg.Explore.TimeLimit, _ = flags.GetDuration("time-limit")
		}
		if flags.Changed("no-fdg") {
			noFDG, _ := flags.GetBool("no-fdg")
			cfg.FDG.Enabled = !noFDG
		}
		runID, _ := flags.GetString("run-id")
		if runID == "" {
			runID = uuid.NewString()
		}

		if term.IsTerminal(int(os.Stdout.Fd())) {
			tui.PrintBanner(os.Stdout, droidscout.Version)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		apiKey := os.Getenv(cfg.Classifier.APIKeyEnv)
		if apiKey == "" {
			return fmt.Errorf("%s is not set", cfg.Classifier.APIKeyEnv)
		}
		classifier, err := gemini.New(ctx, apiKey, gemini.WithModel(cfg.Classifier.Model))
		if err != nil {
			return err
		}

		device := adb.New(cfg.Device.ADBPath, cfg.Device.Serial, adb.WithLogger(logger))
		if cfg.Device.GrantPermissions && cfg.App.Bundle != "" {
			granted := device.GrantPermissions(ctx, cfg.App.Bundle)
			logger.Info("Granted runtime permissions", "count", granted)
		}

		metrics := observability.NewMetrics()
		opts := append(rs.engineOptions(cfg, logger),
			droidscout.WithMetrics(metrics),
			droidscout.WithRunID(runID),
		)

		if addr, _ := flags.GetString("listen"); addr != "" {
			streams := httpAdapter.NewStreamManager()
			opts = append(opts, droidscout.WithLifecycleHooks(streams.Hooks(runID)))

			srv := &http.Server{
				Addr: addr,
				Handler: httpAdapter.NewHandler(rs.store,
					httpAdapter.WithMetrics(metrics.Handler()),
					httpAdapter.WithStreams(streams),
					httpAdapter.WithLogger(logger),
				),
			}
			served := make(chan error, 1)
			serveCtx, cancelServe := context.WithCancel(context.Background())
			defer func() {
				cancelServe()
				if err := <-served; err != nil {
					logger.Warn("Server stopped with error", "err", err)
				}
			}()
			go func() {
				served <- httpAdapter.ServeUntil(serveCtx, srv, 5*time.Second)
			}()
			fmt.Printf("Live view on http://%s/events?run_id=%s\n", addr, runID)
		}

		engine, err := droidscout.New(device, classifier, opts...)
		if err != nil {
			return err
		}

		report, err := engine.Explore(ctx)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func printReport(r *droidscout.Report) {
	fmt.Printf("Run %s\n", r.RunID)
	fmt.Printf("  pages:     %d\n", r.Graph.Len())
	fmt.Printf("  actions:   %d (%d restarts, max depth %d)\n", r.Actions, r.Restarts, r.MaxDepth)
	if r.FDG != nil {
		fmt.Printf("  units:     %d\n", len(r.FDG.Units))
	}
	fmt.Printf("  bugs:      %d (%d transitions judged)\n", r.Bugs, r.Diagnosed)
	if r.DroppedDiagnostics > 0 {
		fmt.Printf("  dropped:   %d diagnostic tasks\n", r.DroppedDiagnostics)
	}
	fmt.Printf("  coverage:  %d/%d containers (%.0f%%)\n",
		r.Coverage.HitCount, r.Coverage.DeclaredCount, 100*r.Coverage.CoverageRatio)
	fmt.Printf("  tokens:    %d in %d calls\n", r.Stats.TotalTokens, r.Stats.Calls)
	if r.Halted != nil {
		fmt.Printf("  halted:    %v\n", r.Halted)
	}
}

func init() {
	exploreCmd.Flags().String("bundle", "", "Package name of the application under test (overrides app.bundle)")
	exploreCmd.Flags().String("app", "", "Human readable application name used in prompts")
	exploreCmd.Flags().String("serial", "", "adb serial of the device")
	exploreCmd.Flags().String("run-id", "", "ID of the run (default: random UUID)")
	exploreCmd.Flags().Int("depth", 0, "Depth limit of the traversal")
	exploreCmd.Flags().Duration("time-limit", 0, "Wall-clock budget of the traversal")
	exploreCmd.Flags().Bool("no-fdg", false, "Skip FDG construction")
	exploreCmd.Flags().String("listen", "", "Serve runs, metrics and live events on this address (e.g. :8080)")
	rootCmd.AddCommand(exploreCmd)
}
