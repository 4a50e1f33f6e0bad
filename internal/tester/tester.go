// Package tester runs task-level functional tests of FDG units on a live device.
//
// A test restarts the application, replays the shortest PTG route to the unit's
// entry page and then lets the classifier drive the device in the action language
// until it declares the task finished. The recorded path is judged by the
// diagnostics worker as one bundle.
package tester

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/droidscout/internal/action"
	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/internal/oracle"
	"github.com/aretw0/droidscout/internal/prompts"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
)

// DefaultTask is used when a unit carries no core logic summary.
const DefaultTask = "Execute the core steps of this functional point."

// Diagnostics receives the recorded path of every test.
type Diagnostics interface {
	Enqueue(task domain.DiagnosticTask) bool
}

// Config bounds a single test.
type Config struct {
	Bundle       string
	MaxSteps     int
	History      int
	ParseRetries int
	Variants     int
	SettleDelay  time.Duration
	RestartDelay time.Duration
}

// DefaultConfig returns the bounds used by the command line.
func DefaultConfig(bundle string) Config {
	return Config{
		Bundle:       bundle,
		MaxSteps:     20,
		History:      5,
		ParseRetries: 3,
		Variants:     3,
		SettleDelay:  2 * time.Second,
		RestartDelay: 5 * time.Second,
	}
}

// Result is the outcome of one unit test.
type Result struct {
	Unit      int
	Task      string
	EntryPage int
	// Reached is false when the entry page had no route from the launch page; it is then tested from there.
	Reached  bool
	Finished bool
	Steps    []domain.PathStep
	Variants [][]string
	Enqueued bool
}

// Tester executes unit tests one at a time on a single device.
type Tester struct {
	device      ports.Device
	oracle      *oracle.Oracle
	cfg         Config
	diagnostics Diagnostics
	logger      *slog.Logger
	sleep       func(context.Context, time.Duration)
}

// Option configures a Tester.
type Option func(*Tester)

// WithDiagnostics hands every recorded path to d.
func WithDiagnostics(d Diagnostics) Option {
	return func(t *Tester) {
		t.diagnostics = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tester) {
		t.logger = l
	}
}

// WithSleep replaces the settle and restart waits.
func WithSleep(fn func(context.Context, time.Duration)) Option {
	return func(t *Tester) {
		t.sleep = fn
	}
}

// New creates a Tester.
func New(device ports.Device, o *oracle.Oracle, cfg Config, opts ...Option) *Tester {
	t := &Tester{
		device: device,
		oracle: o,
		cfg:    cfg,
		logger: logging.NewNop(),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.cfg.MaxSteps < 1 {
		t.cfg.MaxSteps = 1
	}
	if t.cfg.History < 1 {
		t.cfg.History = 1
	}
	if t.cfg.ParseRetries < 1 {
		t.cfg.ParseRetries = 1
	}
	return t
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// EntryPage returns the page a unit's test starts from: the core logic's
// entry_page when it names a page of g, else the launch page.
func EntryPage(g *domain.PTG, u *domain.FunctionalUnit) int {
	var page int
	switch v := u.CoreLogic["entry_page"].(type) {
	case int:
		page = v
	case float64:
		page = int(v)
	default:
		return 0
	}
	if n := g.Node(page); n == nil || n.Kind != domain.NodeKindPage {
		return 0
	}
	return page
}

// TaskOf returns the natural-language task the classifier is asked to carry out.
func TaskOf(u *domain.FunctionalUnit) string {
	if logic, ok := u.CoreLogic["logic"].(string); ok && strings.TrimSpace(logic) != "" {
		return logic
	}
	return DefaultTask
}

// TestUnit runs the task-level test of u against the graph g it was derived from.
func (t *Tester) TestUnit(ctx context.Context, g *domain.PTG, u *domain.FunctionalUnit) (*Result, error) {
	res := &Result{Unit: u.Index, Task: TaskOf(u), EntryPage: EntryPage(g, u)}
	logger := t.logger.With("unit", u.Index, "entry_page", res.EntryPage)
	logger.Info("Unit test started", "function", u.FunctionDescription)

	reached, err := t.replayTo(ctx, g, res.EntryPage)
	if err != nil {
		return res, err
	}
	res.Reached = reached
	if !reached {
		logger.Warn("entry page unreachable, testing from the launch page")
	}

	if err := t.drive(ctx, u, res, logger); err != nil {
		return res, err
	}

	if t.cfg.Variants > 0 {
		res.Variants = t.variants(ctx, g, u, res.Task, logger)
	}

	if t.diagnostics != nil && len(res.Steps) > 0 {
		res.Enqueued = t.diagnostics.Enqueue(domain.DiagnosticTask{
			ActionDescription:     u.FunctionDescription,
			ExpectedPostcondition: res.Task,
			Path:                  res.Steps,
		})
	}

	logger.Info("Unit test finished", "steps", len(res.Steps), "finished", res.Finished, "variants", len(res.Variants))
	return res, nil
}

// replayTo restarts the application and follows the shortest route to page.
func (t *Tester) replayTo(ctx context.Context, g *domain.PTG, page int) (bool, error) {
	if err := t.device.Restart(ctx, t.cfg.Bundle); err != nil {
		return false, fmt.Errorf("failed to restart app: %w", err)
	}
	t.sleep(ctx, t.cfg.RestartDelay)

	steps, ok := g.ShortestPath(0, page)
	if !ok {
		return false, nil
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		edge := g.Node(s.PageIndex).Edges[s.EdgeIndex]
		if err := action.Dispatch(ctx, t.device, action.FromEdge(edge)); err != nil {
			t.logger.Debug("replay step failed", "page", s.PageIndex, "edge", s.EdgeIndex, "err", err)
		}
		t.sleep(ctx, t.cfg.SettleDelay)
	}
	return true, nil
}

// drive lets the classifier act until it answers finished or the step budget runs out.
func (t *Tester) drive(ctx context.Context, u *domain.FunctionalUnit, res *Result, logger *slog.Logger) error {
	var history [][]byte
	var done []string

	for step := 0; step < t.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := t.device.Capture(ctx, true)
		if err != nil {
			return fmt.Errorf("failed to capture screen: %w", err)
		}
		history = append(history, snap.Image)
		if len(history) > t.cfg.History {
			history = history[len(history)-t.cfg.History:]
		}

		a, err := t.next(ctx, prompts.TestStep(u.FunctionDescription, res.Task, done, history))
		if err != nil {
			logger.Warn("no usable action from classifier, stopping", "step", step+1, "err", err)
			return nil
		}

		desc := describe(a)
		res.Steps = append(res.Steps, domain.PathStep{Image: snap.Image, Description: desc})
		done = append(done, desc)
		if a.Name == action.Finished {
			res.Finished = true
			return nil
		}

		if err := action.Dispatch(ctx, t.device, a.Scaled(snap.Width, snap.Height)); err != nil {
			logger.Debug("action failed", "step", step+1, "action", desc, "err", err)
		}
		t.sleep(ctx, t.cfg.SettleDelay)
	}
	logger.Info("step budget exhausted", "steps", t.cfg.MaxSteps)
	return nil
}

// next asks for an action, re-asking when the reply cannot be parsed.
func (t *Tester) next(ctx context.Context, req ports.Request) (action.Action, error) {
	var lastErr error
	for attempt := 0; attempt < t.cfg.ParseRetries; attempt++ {
		text, err := t.oracle.Text(ctx, req)
		if err != nil {
			return action.Action{}, err
		}
		a, err := action.Parse(text)
		if err == nil {
			return a, nil
		}
		lastErr = err
	}
	return action.Action{}, lastErr
}

func describe(a action.Action) string {
	var args []string
	if a.Point != nil {
		args = append(args, fmt.Sprintf("point=(%d, %d)", a.Point.X, a.Point.Y))
	}
	if a.Content != "" {
		args = append(args, fmt.Sprintf("content=%q", a.Content))
	}
	if a.Direction != "" {
		args = append(args, "direction="+a.Direction)
	}
	return fmt.Sprintf("%s(%s)", a.Name, strings.Join(args, ", "))
}

// variants asks for alternative paths through u and keeps at most cfg.Variants non-empty ones.
func (t *Tester) variants(ctx context.Context, g *domain.PTG, u *domain.FunctionalUnit, task string, logger *slog.Logger) [][]string {
	var widgets []string
	for _, ref := range u.ActionRefs {
		n := g.Node(ref.PageIndex)
		if n == nil || ref.EdgeIndex < 0 || ref.EdgeIndex >= len(n.Edges) {
			continue
		}
		e := n.Edges[ref.EdgeIndex]
		widgets = append(widgets, fmt.Sprintf("- %s (%s)", e.Description, e.Action))
	}

	var reply dto.VariantsReply
	req := prompts.TestVariants(u.FunctionDescription, task, strings.Join(widgets, "\n"), t.cfg.Variants)
	if err := t.oracle.Ask(ctx, req, &reply); err != nil {
		logger.Warn("variant planning failed", "err", err)
		return nil
	}
	var out [][]string
	for _, v := range reply.VariantPaths {
		if len(v) == 0 {
			continue
		}
		out = append(out, v)
		if len(out) == t.cfg.Variants {
			break
		}
	}
	return out
}
