package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/droidscout/internal/coverage"
	"github.com/aretw0/droidscout/internal/diagnostics"
	"github.com/aretw0/droidscout/internal/equivalence"
	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/internal/oracle"
	"github.com/aretw0/droidscout/internal/widgets"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
)

// errAbandoned reports that the explorer could not get back to a page.
// The caller treats it as the end of that branch, not of the run.
var errAbandoned = errors.New("branch abandoned")

// Config bounds and tunes a traversal.
type Config struct {
	Bundle       string
	DepthLimit   int
	TimeLimit    time.Duration
	BackRetries  int
	SettleDelay  time.Duration
	RestartDelay time.Duration

	// RelocateWidgets asks the classifier where an edge's widget is on the
	// current screen before acting on it.
	RelocateWidgets bool

	// WidgetNodes gives every leaf edge a dedicated widget node.
	WidgetNodes bool
}

// DefaultConfig returns the default budgets for bundle.
func DefaultConfig(bundle string) Config {
	return Config{
		Bundle:       bundle,
		DepthLimit:   10,
		TimeLimit:    60 * time.Minute,
		BackRetries:  3,
		SettleDelay:  2 * time.Second,
		RestartDelay: 5 * time.Second,
	}
}

// Result summarizes a finished traversal.
type Result struct {
	Graph    *domain.PTG
	Actions  int
	Restarts int
	// MaxDepth is the longest active path observed.
	MaxDepth int
	// Halted is nil when the traversal ran out of pages to visit. Otherwise it
	// carries the budget, cancellation or recovered failure that stopped it.
	Halted error
}

// Explorer drives the device through the application and builds the PTG.
// A single goroutine owns the graph and the active path; extraction and
// diagnostics only run alongside it.
type Explorer struct {
	device   ports.Device
	matcher  *equivalence.Matcher
	pipeline *widgets.Pipeline
	cfg      Config

	oracle   *oracle.Oracle
	worker   *diagnostics.Worker
	coverage *coverage.Tracker
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration)
	runID    string

	graph    *domain.PTG
	path     domain.ExplorationPath
	deadline time.Time
	actions  int
	restarts int
	maxDepth int
}

// Option configures an Explorer.
type Option func(*Explorer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Explorer) {
		e.logger = l
	}
}

// WithOracle enables widget relocation through o.
func WithOracle(o *oracle.Oracle) Option {
	return func(e *Explorer) {
		e.oracle = o
	}
}

// WithDiagnostics feeds every observed transition to w.
func WithDiagnostics(w *diagnostics.Worker) Option {
	return func(e *Explorer) {
		e.worker = w
	}
}

// WithCoverage records every entered container in t.
func WithCoverage(t *coverage.Tracker) Option {
	return func(e *Explorer) {
		e.coverage = t
	}
}

// WithHooks registers lifecycle callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(e *Explorer) {
		e.hooks = h
	}
}

// WithClock replaces time.Now for the time budget.
func WithClock(now func() time.Time) Option {
	return func(e *Explorer) {
		e.now = now
	}
}

// WithSleep replaces the settle and restart waits.
func WithSleep(fn func(context.Context, time.Duration)) Option {
	return func(e *Explorer) {
		e.sleep = fn
	}
}

// WithRunID tags emitted events.
func WithRunID(id string) Option {
	return func(e *Explorer) {
		e.runID = id
	}
}

// NewExplorer creates an explorer. matcher and pipeline are required.
func NewExplorer(dev ports.Device, matcher *equivalence.Matcher, pipeline *widgets.Pipeline, cfg Config, opts ...Option) *Explorer {
	if cfg.BackRetries < 1 {
		cfg.BackRetries = 3
	}
	if cfg.DepthLimit < 1 {
		cfg.DepthLimit = 10
	}
	e := &Explorer{
		device:   dev,
		matcher:  matcher,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logging.NewNop(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run explores the application from its current screen until every reachable
// page within the depth limit has been visited or a budget trips.
// It always returns a consistent graph, even when the traversal failed.
func (e *Explorer) Run(ctx context.Context) (res *Result) {
	e.graph = domain.NewPTG(e.cfg.Bundle)
	e.path = domain.ExplorationPath{}
	e.deadline = e.now().Add(e.cfg.TimeLimit)
	e.actions, e.restarts, e.maxDepth = 0, 0, 0

	res = &Result{Graph: e.graph}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("exploration panicked", "panic", r)
			res.Halted = fmt.Errorf("exploration panicked: %v", r)
		}
		res.Actions = e.actions
		res.Restarts = e.restarts
		res.MaxDepth = e.maxDepth
	}()

	snap, err := e.device.Capture(ctx, true)
	if err != nil {
		e.logger.Error("failed to capture launch screen", "err", err)
		res.Halted = fmt.Errorf("failed to capture launch screen: %w", err)
		return res
	}
	root := e.graph.AddPage(snap)
	e.emitDiscovered(ctx, root)

	widgets.Apply(e.graph, e.pipeline.Extract(ctx, widgets.Job{PageIndex: root.Index, After: snap}))

	err = e.explore(ctx, root.Index)
	switch {
	case err == nil, errors.Is(err, errAbandoned):
		e.logger.Info("exploration finished", "pages", e.graph.Len(), "actions", e.actions)
	default:
		e.logger.Info("exploration halted", "reason", err, "pages", e.graph.Len(), "actions", e.actions)
		res.Halted = err
	}
	return res
}

// checkBudget is polled at every recursion entry and before every device action.
func (e *Explorer) checkBudget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.cfg.TimeLimit > 0 && !e.now().Before(e.deadline) {
		return fmt.Errorf("%w: time limit %s reached", domain.ErrBudgetExceeded, e.cfg.TimeLimit)
	}
	return nil
}

// halts reports errors that must unwind the whole traversal.
func halts(err error) bool {
	return errors.Is(err, domain.ErrBudgetExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// explore visits page, tries its untried edges and then descends into its unvisited children.
// The device is expected to show page on entry and on successful return.
func (e *Explorer) explore(ctx context.Context, page int) error {
	if err := e.checkBudget(ctx); err != nil {
		return err
	}

	node := e.graph.Node(page)
	node.Visited = true
	e.emitEnter(ctx, node)
	if e.coverage != nil && node.Snapshot != nil {
		e.coverage.Visit(node.Snapshot.ContainerIdentity)
		e.coverage.MaybeDump(ctx)
	}

	logger := e.logger.With("page", page)
	logger.Debug("exploring page", "edges", len(node.Edges), "depth", e.path.Len())

	batch := e.pipeline.NewBatch()
	err := e.executeEdges(ctx, page, batch)

	// Barrier: children are only chosen once every extraction of this page has settled.
	for _, ext := range batch.Wait() {
		if ext.Err != nil {
			logger.Warn("widget extraction failed", "target", ext.PageIndex, "err", ext.Err)
			continue
		}
		widgets.Apply(e.graph, ext)
	}
	if err != nil {
		return err
	}

	for i := range node.Edges {
		if err := e.checkBudget(ctx); err != nil {
			return err
		}
		edge := node.Edges[i]
		if edge.IsLeaf || edge.Target == nil {
			continue
		}
		child := e.graph.Node(*edge.Target)
		if child == nil || child.Visited || child.Kind != domain.NodeKindPage {
			continue
		}
		if e.path.Len() >= e.cfg.DepthLimit {
			continue
		}

		if landed, err := e.descend(ctx, page, i); err != nil {
			if halts(err) {
				return err
			}
			logger.Debug("could not enter child", "edge", i, "child", child.Index, "err", err)
			if landed != page {
				if err := e.returnTo(ctx, page, landed); err != nil {
					return err
				}
			}
			continue
		}

		e.path.Push(domain.Step{PageIndex: page, EdgeIndex: i})
		if e.path.Len() > e.maxDepth {
			e.maxDepth = e.path.Len()
		}
		err := e.explore(ctx, child.Index)
		e.path.Pop()

		if err != nil && halts(err) {
			return err
		}
		if err := e.returnTo(ctx, page, -1); err != nil {
			return err
		}
	}

	logger.Debug("page finished")
	return nil
}

// descend acts on edge i of page and checks that the device reached the edge's target.
// On failure landed is page when the device did not move, a known page index,
// or -1 when the screen is unknown.
func (e *Explorer) descend(ctx context.Context, page, i int) (landed int, err error) {
	target := *e.graph.Node(page).Edges[i].Target
	if err := e.act(ctx, page, i); err != nil {
		return page, err
	}
	snap, err := e.device.Capture(ctx, true)
	if err != nil {
		return -1, fmt.Errorf("failed to capture screen: %w", err)
	}
	res := e.matcher.Resolve(ctx, e.graph, snap)
	if !res.Existing {
		return -1, fmt.Errorf("expected page %d, landed on an unknown screen (%s)", target, res.Reason)
	}
	if res.Index != target {
		return res.Index, fmt.Errorf("expected page %d, landed on %d", target, res.Index)
	}
	e.graph.Node(target).Snapshot = snap
	return target, nil
}

// executeEdges tries every unresolved edge of page once, binding each to the
// page it leads to. Newly found pages are handed to the extraction batch.
func (e *Explorer) executeEdges(ctx context.Context, page int, batch *widgets.Batch) error {
	node := e.graph.Node(page)
	logger := e.logger.With("page", page)

	for i := range node.Edges {
		if err := e.checkBudget(ctx); err != nil {
			return err
		}
		edge := &node.Edges[i]
		if edge.Target != nil {
			continue
		}

		if edge.IsLeaf {
			if e.cfg.WidgetNodes {
				w := e.graph.AddWidget(node, edge.Description)
				edge.Bind(w.Index)
			} else {
				edge.Bind(page)
			}
			continue
		}

		before := node.Snapshot
		if err := e.act(ctx, page, i); err != nil {
			if halts(err) {
				return err
			}
			logger.Debug("action had no effect", "edge", i, "err", err)
			e.demote(ctx, page, i)
			continue
		}

		snap, err := e.device.Capture(ctx, true)
		if err != nil {
			logger.Warn("failed to capture after action", "edge", i, "err", err)
			if err := e.back(ctx); err != nil {
				return err
			}
			e.sleep(ctx, e.cfg.SettleDelay)
			e.demote(ctx, page, i)
			continue
		}

		res := e.matcher.Resolve(ctx, e.graph, snap)
		if res.Existing && res.Index == page {
			node.Snapshot = snap
			e.demote(ctx, page, i)
			continue
		}

		if e.worker != nil {
			e.worker.Enqueue(domain.DiagnosticTask{
				Before:                before,
				After:                 snap,
				ActionDescription:     edge.Description,
				ExpectedPostcondition: edge.Postcondition,
			})
		}

		if res.Existing {
			e.graph.Node(res.Index).Snapshot = snap
			edge.Bind(res.Index)
		} else {
			n := e.graph.AddPage(snap)
			edge.Bind(n.Index)
			e.emitDiscovered(ctx, n)
			e.pipeline.Spawn(ctx, batch, widgets.Job{
				PageIndex: n.Index,
				Before:    before,
				After:     snap,
				Action:    edge.Description,
			})
		}
		logger.Debug("edge resolved", "edge", i, "target", *edge.Target, "reason", res.Reason)

		if err := e.returnTo(ctx, page, *edge.Target); err != nil {
			return err
		}
	}
	return nil
}

func (e *Explorer) demote(ctx context.Context, page, i int) {
	node := e.graph.Node(page)
	node.Edges[i].Demote(page)
	if e.hooks.OnEdgeDemoted != nil {
		e.hooks.OnEdgeDemoted(ctx, &domain.ActionEvent{
			EventBase: e.base(domain.EventEdgeDemoted),
			PageIndex: page,
			EdgeIndex: i,
			Action:    node.Edges[i].Action,
		})
	}
}

func (e *Explorer) base(t domain.EventType) domain.EventBase {
	return domain.EventBase{Timestamp: e.now(), Type: t, RunID: e.runID}
}

func (e *Explorer) emitEnter(ctx context.Context, n *domain.PageNode) {
	if e.hooks.OnPageEnter == nil {
		return
	}
	e.hooks.OnPageEnter(ctx, &domain.PageEvent{
		EventBase: e.base(domain.EventPageEnter),
		PageIndex: n.Index,
		Container: container(n),
		Depth:     e.path.Len(),
	})
}

func (e *Explorer) emitDiscovered(ctx context.Context, n *domain.PageNode) {
	if e.hooks.OnPageDiscovered == nil {
		return
	}
	e.hooks.OnPageDiscovered(ctx, &domain.PageEvent{
		EventBase: e.base(domain.EventPageDiscovered),
		PageIndex: n.Index,
		Container: container(n),
		Depth:     e.path.Len(),
	})
}

func container(n *domain.PageNode) string {
	if n.Snapshot == nil {
		return ""
	}
	return n.Snapshot.ContainerIdentity
}
