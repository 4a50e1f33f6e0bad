package droidscout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/droidscout/internal/config"
	"github.com/aretw0/droidscout/internal/coverage"
	"github.com/aretw0/droidscout/internal/diagnostics"
	"github.com/aretw0/droidscout/internal/equivalence"
	"github.com/aretw0/droidscout/internal/fdg"
	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/internal/oracle"
	"github.com/aretw0/droidscout/internal/runtime"
	"github.com/aretw0/droidscout/internal/tester"
	"github.com/aretw0/droidscout/internal/widgets"
	"github.com/aretw0/droidscout/pkg/adapters/memory"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/observability"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/aretw0/droidscout/pkg/session"
	"github.com/google/uuid"
)

// Config is the full set of exploration settings.
type Config = config.Config

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a YAML or JSON settings file over the defaults.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// defaultDrainTimeout bounds the diagnostics drain when the config leaves it unset.
const defaultDrainTimeout = 2 * time.Minute

// Engine is the high-level entry point of the library.
// It explores one application on one device and persists every run to a RunStore.
type Engine struct {
	device     ports.Device
	classifier ports.Classifier
	store      ports.RunStore
	catalog    ports.UnitCatalog
	cfg        Config

	sessions *session.Manager
	locker   ports.DistributedLocker
	metrics  *observability.Metrics
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration)
	runID    string
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithConfig replaces the default settings.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithStore sets where runs are persisted (default: in memory).
func WithStore(store ports.RunStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithCatalog publishes every built FDG unit by unit to c and reads the test selection back from it.
func WithCatalog(c ports.UnitCatalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithLocker guards the device across processes.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithMetrics records classifier usage and exploration events in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSleep replaces the settle and restart waits of the explorer.
func WithSleep(fn func(context.Context, time.Duration)) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// WithRunID fixes the ID of the next run instead of generating a UUID.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// New creates an Engine driving device and asking classifier.
func New(device ports.Device, classifier ports.Classifier, opts ...Option) (*Engine, error) {
	e := &Engine{
		device:     device,
		classifier: classifier,
		cfg:        config.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if e.cfg.App.Bundle == "" {
		return nil, fmt.Errorf("invalid config: app.bundle is required")
	}

	sessionOpts := []session.Option{
		session.WithLeaseTTL(e.cfg.Device.LockTTL),
		session.WithLogger(e.logger),
	}
	if e.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(e.locker))
	}
	e.sessions = session.NewManager(e.store, sessionOpts...)
	return e, nil
}

// Sessions exposes the run and device coordinator.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Report summarizes a finished run.
type Report struct {
	RunID string
	Graph *domain.PTG
	// FDG is nil when construction was disabled, failed or the run was canceled.
	FDG *domain.FDG

	Actions  int
	Restarts int
	MaxDepth int
	// Halted is nil when every reachable page was explored.
	Halted error

	Bugs               int
	Diagnosed          int
	DroppedDiagnostics int

	Coverage domain.CoverageSnapshot
	Stats    observability.TokenStats
}

// Explore runs a full exploration while holding the device lease.
// Whatever was discovered is persisted even when ctx is canceled midway.
func (e *Engine) Explore(ctx context.Context) (*Report, error) {
	runID := e.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	var report *Report
	err := e.sessions.Lease(ctx, e.cfg.Device.Serial, func(ctx context.Context) error {
		var err error
		report, err = e.explore(ctx, runID)
		return err
	})
	return report, err
}

func (e *Engine) explore(ctx context.Context, runID string) (*Report, error) {
	cfg := e.cfg
	bundle := cfg.App.Bundle
	logger := e.logger.With("run_id", runID, "bundle", bundle)
	logger.Info("Exploration started")

	in := observability.NewInstrumentation(runID, bundle, e.metrics)
	o := e.newOracle(in, logger)
	sink := e.store.Artifacts(runID)

	// Persisting outlives the caller's cancellation.
	detached := context.WithoutCancel(ctx)

	tracker := coverage.NewTracker(runID, bundle, e.declared(ctx, logger), e.store,
		coverage.WithInterval(cfg.Coverage.Interval),
		coverage.WithLogger(logger),
	)

	hooks := e.hooks
	if e.metrics != nil {
		hooks = observability.ChainHooks(e.metrics.Hooks(), e.hooks)
	}

	opts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithCoverage(tracker),
		runtime.WithHooks(hooks),
		runtime.WithRunID(runID),
	}
	if cfg.Explore.RelocateWidgets {
		opts = append(opts, runtime.WithOracle(o))
	}
	if e.sleep != nil {
		opts = append(opts, runtime.WithSleep(e.sleep))
	}

	var worker *diagnostics.Worker
	if cfg.Diagnostics.Enabled {
		workerOpts := []diagnostics.Option{diagnostics.WithLogger(logger)}
		if e.metrics != nil {
			workerOpts = append(workerOpts, diagnostics.WithOnBug(func(_ int, v domain.BugVerdict) {
				e.metrics.BugReported(v.BugType)
			}))
		}
		worker = diagnostics.NewWorker(o, sink, workerOpts...)
		// The queue is drained under its own deadline after the traversal.
		worker.Start(detached)
		opts = append(opts, runtime.WithDiagnostics(worker))
	}

	matcher := equivalence.NewMatcher(o,
		equivalence.WithWeights(equivalence.Weights{
			Structural: cfg.Equivalence.StructuralWeight,
			Visual:     cfg.Equivalence.VisualWeight,
		}),
		equivalence.WithThreshold(cfg.Equivalence.Threshold),
		equivalence.WithLogger(logger),
	)
	pipeline := widgets.NewPipeline(o, bundle,
		widgets.WithConcurrency(int64(cfg.Explore.WidgetConcurrency)),
		widgets.WithLogger(logger),
	)

	explorer := runtime.NewExplorer(e.device, matcher, pipeline, runtime.Config{
		Bundle:          bundle,
		DepthLimit:      cfg.Explore.DepthLimit,
		TimeLimit:       cfg.Explore.TimeLimit,
		BackRetries:     cfg.Explore.BackRetries,
		SettleDelay:     cfg.Explore.SettleDelay,
		RestartDelay:    cfg.Explore.RestartDelay,
		RelocateWidgets: cfg.Explore.RelocateWidgets,
		WidgetNodes:     cfg.Explore.WidgetNodes,
	}, opts...)
	res := explorer.Run(ctx)

	report := &Report{
		RunID:    runID,
		Graph:    res.Graph,
		Actions:  res.Actions,
		Restarts: res.Restarts,
		MaxDepth: res.MaxDepth,
		Halted:   res.Halted,
	}

	if worker != nil {
		timeout := cfg.Diagnostics.DrainTimeout
		if timeout <= 0 {
			timeout = defaultDrainTimeout
		}
		drainCtx, cancel := context.WithTimeout(detached, timeout)
		dropped, err := worker.Stop(drainCtx)
		cancel()
		if err != nil {
			logger.Warn("Diagnostics drain incomplete", "dropped", dropped, "err", err)
		}
		report.Bugs = worker.Bugs()
		report.Diagnosed = worker.Processed()
		report.DroppedDiagnostics = dropped
	}

	tracker.Dump(detached)
	report.Coverage = tracker.Snapshot()

	if cfg.FDG.Enabled && ctx.Err() == nil {
		graph, err := e.builder(o, logger).Build(ctx, res.Graph)
		if err != nil {
			logger.Error("Failed to build FDG", "err", err)
		} else {
			report.FDG = graph
			e.publish(detached, runID, graph, logger)
		}
	}

	if err := e.sessions.SaveRun(detached, runID, res.Graph, report.FDG); err != nil {
		return report, fmt.Errorf("failed to save run %s: %w", runID, err)
	}
	if err := in.WriteStats(detached, sink); err != nil {
		logger.Warn("Failed to write token stats", "err", err)
	}
	report.Stats = in.Stats()

	logger.Info("Exploration finished",
		"pages", res.Graph.Len(),
		"actions", res.Actions,
		"restarts", res.Restarts,
		"bugs", report.Bugs,
		"halted", res.Halted,
	)
	return report, nil
}

// BuildFDG (re)builds the FDG of a persisted run from its PTG and saves it.
func (e *Engine) BuildFDG(ctx context.Context, runID string) (*domain.FDG, error) {
	ptg, _, err := e.sessions.LoadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	logger := e.logger.With("run_id", runID)
	in := observability.NewInstrumentation(runID, ptg.Bundle, e.metrics)
	graph, err := e.builder(e.newOracle(in, logger), logger).Build(ctx, ptg)
	if err != nil {
		return nil, fmt.Errorf("failed to build FDG: %w", err)
	}
	if err := e.sessions.SaveRun(ctx, runID, ptg, graph); err != nil {
		return nil, fmt.Errorf("failed to save run %s: %w", runID, err)
	}
	e.publish(ctx, runID, graph, logger)
	if err := in.WriteStats(ctx, e.store.Artifacts(runID)); err != nil {
		logger.Warn("Failed to write token stats", "err", err)
	}
	return graph, nil
}

// publish writes the units to the catalog, if any. Failures are logged: the FDG itself is already stored.
func (e *Engine) publish(ctx context.Context, runID string, graph *domain.FDG, logger *slog.Logger) {
	if e.catalog == nil {
		return
	}
	if err := e.catalog.SaveUnits(ctx, runID, graph); err != nil {
		logger.Warn("Failed to publish unit catalog", "err", err)
	}
}

// TestBundlePrefix names the bug bundles written by TestUnits (test-bug1, test-bug2, ...).
const TestBundlePrefix = "test-bug"

// UnitResult is the outcome of one unit test.
type UnitResult = tester.Result

// TestReport summarizes a TestUnits call.
type TestReport struct {
	RunID   string
	Results []*UnitResult

	Bugs               int
	DroppedDiagnostics int
	Stats              observability.TokenStats
}

// TestUnits runs the task-level test of the given units of a stored run while holding the device lease.
// Without indices every unit marked for testing is run. Bugs are written to the run's artifacts.
func (e *Engine) TestUnits(ctx context.Context, runID string, indices ...int) (*TestReport, error) {
	ptg, stored, err := e.sessions.LoadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	units, err := e.selectUnits(ctx, runID, stored, indices)
	if err != nil {
		return nil, err
	}

	var report *TestReport
	err = e.sessions.Lease(ctx, e.cfg.Device.Serial, func(ctx context.Context) error {
		var err error
		report, err = e.testUnits(ctx, runID, ptg, units)
		return err
	})
	return report, err
}

func (e *Engine) selectUnits(ctx context.Context, runID string, stored *domain.FDG, indices []int) ([]*domain.FunctionalUnit, error) {
	if len(indices) > 0 {
		units := make([]*domain.FunctionalUnit, 0, len(indices))
		for _, i := range indices {
			var u *domain.FunctionalUnit
			if e.catalog != nil {
				var err error
				if u, err = e.catalog.Unit(ctx, runID, i); err != nil && !errors.Is(err, domain.ErrGraphNotFound) {
					return nil, err
				}
			}
			if u == nil && stored != nil {
				u = stored.Unit(i)
			}
			if u == nil {
				return nil, fmt.Errorf("%w: %d in run %s", domain.ErrUnitNotFound, i, runID)
			}
			units = append(units, u)
		}
		return units, nil
	}

	fdg := stored
	if e.catalog != nil {
		published, err := e.catalog.LoadUnits(ctx, runID)
		switch {
		case err == nil:
			fdg = published
		case !errors.Is(err, domain.ErrGraphNotFound):
			return nil, fmt.Errorf("failed to read unit catalog: %w", err)
		}
	}
	if fdg == nil {
		return nil, fmt.Errorf("run %s has no FDG: %w", runID, domain.ErrGraphNotFound)
	}
	var units []*domain.FunctionalUnit
	for _, u := range fdg.Units {
		if u.ToTest {
			units = append(units, u)
		}
	}
	return units, nil
}

func (e *Engine) testUnits(ctx context.Context, runID string, ptg *domain.PTG, units []*domain.FunctionalUnit) (*TestReport, error) {
	cfg := e.cfg
	logger := e.logger.With("run_id", runID, "bundle", cfg.App.Bundle)
	in := observability.NewInstrumentation(runID, cfg.App.Bundle, e.metrics)
	o := e.newOracle(in, logger)
	sink := e.store.Artifacts(runID)
	detached := context.WithoutCancel(ctx)

	var opts []tester.Option
	opts = append(opts, tester.WithLogger(logger))
	if e.sleep != nil {
		opts = append(opts, tester.WithSleep(e.sleep))
	}
	var worker *diagnostics.Worker
	if cfg.Diagnostics.Enabled {
		// Separate numbering keeps exploration bundles intact.
		worker = diagnostics.NewWorker(o, sink,
			diagnostics.WithLogger(logger),
			diagnostics.WithBundlePrefix(TestBundlePrefix),
		)
		worker.Start(detached)
		opts = append(opts, tester.WithDiagnostics(worker))
	}

	t := tester.New(e.device, o, tester.Config{
		Bundle:       cfg.App.Bundle,
		MaxSteps:     cfg.Test.MaxSteps,
		History:      cfg.Test.History,
		ParseRetries: cfg.Test.ParseRetries,
		Variants:     cfg.Test.Variants,
		SettleDelay:  cfg.Explore.SettleDelay,
		RestartDelay: cfg.Explore.RestartDelay,
	}, opts...)

	report := &TestReport{RunID: runID}
	var runErr error
	for _, u := range units {
		res, err := t.TestUnit(ctx, ptg, u)
		if res != nil {
			report.Results = append(report.Results, res)
		}
		if err != nil {
			runErr = fmt.Errorf("unit %d: %w", u.Index, err)
			break
		}
	}

	if worker != nil {
		timeout := cfg.Diagnostics.DrainTimeout
		if timeout <= 0 {
			timeout = defaultDrainTimeout
		}
		drainCtx, cancel := context.WithTimeout(detached, timeout)
		dropped, err := worker.Stop(drainCtx)
		cancel()
		if err != nil {
			logger.Warn("Diagnostics drain incomplete", "dropped", dropped, "err", err)
		}
		report.Bugs = worker.Bugs()
		report.DroppedDiagnostics = dropped
	}
	if err := in.WriteStats(detached, sink); err != nil {
		logger.Warn("Failed to write token stats", "err", err)
	}
	report.Stats = in.Stats()
	logger.Info("Unit tests finished", "units", len(report.Results), "bugs", report.Bugs)
	return report, runErr
}

func (e *Engine) newOracle(in *observability.Instrumentation, logger *slog.Logger) *oracle.Oracle {
	return oracle.New(in.Wrap(e.classifier),
		oracle.WithAttempts(e.cfg.Classifier.Attempts),
		oracle.WithDelay(e.cfg.Classifier.Delay),
		oracle.WithLogger(logger),
	)
}

func (e *Engine) builder(o *oracle.Oracle, logger *slog.Logger) *fdg.Builder {
	app := e.cfg.App.Name
	if app == "" {
		app = e.cfg.App.Bundle
	}
	return fdg.NewBuilder(o, app,
		fdg.WithConcurrency(e.cfg.FDG.Concurrency),
		fdg.WithLogger(logger),
	)
}

// declared lists the containers coverage is measured against: the configured
// ones, else whatever the device reports.
func (e *Engine) declared(ctx context.Context, logger *slog.Logger) []string {
	if len(e.cfg.Coverage.DeclaredContainers) > 0 {
		return e.cfg.Coverage.DeclaredContainers
	}
	lister, ok := e.device.(ports.ContainerLister)
	if !ok {
		return nil
	}
	names, err := lister.DeclaredContainers(ctx, e.cfg.App.Bundle)
	if err != nil {
		logger.Warn("Failed to list declared containers", "err", err)
		return nil
	}
	return names
}
