// Package diagnostics runs the background bug detector fed by observed transitions.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/internal/oracle"
	"github.com/aretw0/droidscout/internal/prompts"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
)

// BugRecord is the bug.json document of a bug bundle.
type BugRecord struct {
	domain.BugVerdict
	Action     string      `json:"action"`
	Expected   string      `json:"expected"`
	PathRecord []PathEntry `json:"path_record,omitempty"`
}

// PathEntry describes one step_NN.png of a test-run bundle.
type PathEntry struct {
	Step        int    `json:"step"`
	Description string `json:"description"`
}

// Worker is a single consumer over an unbounded FIFO of diagnostic tasks.
// It owns the queue and the bug counter; nothing it holds is read by the explorer.
type Worker struct {
	oracle *oracle.Oracle
	sink   ports.ArtifactSink
	logger *slog.Logger
	onBug  func(n int, v domain.BugVerdict)
	prefix string

	mu     sync.Mutex
	queue  []domain.DiagnosticTask
	closed bool

	notify chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	bugs      atomic.Int64
	processed atomic.Int64
	started   atomic.Bool
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithOnBug registers a callback invoked after bundle n has been written.
func WithOnBug(fn func(n int, v domain.BugVerdict)) Option {
	return func(w *Worker) {
		w.onBug = fn
	}
}

// WithBundlePrefix names bundles <prefix><n> instead of bug<n>.
func WithBundlePrefix(prefix string) Option {
	return func(w *Worker) {
		w.prefix = prefix
	}
}

// NewWorker creates a stopped worker writing bundles to sink.
func NewWorker(o *oracle.Oracle, sink ports.ArtifactSink, opts ...Option) *Worker {
	w := &Worker{
		oracle: o,
		sink:   sink,
		logger: logging.NewNop(),
		prefix: "bug",
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the consumer goroutine. Calling Start twice has no effect.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Enqueue adds a task. It never blocks and reports false once the worker is stopping.
func (w *Worker) Enqueue(task domain.DiagnosticTask) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, task)
	w.mu.Unlock()
	w.wake()
	return true
}

func (w *Worker) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued tasks.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Bugs returns the number of bundles written so far.
func (w *Worker) Bugs() int {
	return int(w.bugs.Load())
}

// Processed returns the number of tasks consumed so far.
func (w *Worker) Processed() int {
	return int(w.processed.Load())
}

// Stop closes the queue and drains it until ctx expires.
// Tasks still queued at the deadline are dropped; their count is returned with ctx's error.
func (w *Worker) Stop(ctx context.Context) (dropped int, err error) {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.wake()

	if !w.started.Load() {
		return w.Pending(), nil
	}

	select {
	case <-w.done:
		return 0, nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		w.mu.Lock()
		dropped = len(w.queue)
		w.queue = nil
		w.mu.Unlock()
		w.logger.Warn("diagnostic drain timed out", "dropped", dropped)
		return dropped, ctx.Err()
	}
}

func (w *Worker) next() (domain.DiagnosticTask, bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return domain.DiagnosticTask{}, false, w.closed
	}
	task := w.queue[0]
	w.queue[0] = domain.DiagnosticTask{}
	w.queue = w.queue[1:]
	return task, true, w.closed
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		if ctx.Err() != nil {
			return
		}
		task, ok, closed := w.next()
		if !ok {
			if closed {
				return
			}
			select {
			case <-w.notify:
			case <-ctx.Done():
				return
			}
			continue
		}
		w.handle(ctx, task)
		w.processed.Add(1)
	}
}

func (w *Worker) handle(ctx context.Context, task domain.DiagnosticTask) {
	var req ports.Request
	switch {
	case len(task.Path) > 0:
		req = prompts.PathBugVerdict(task.ActionDescription, task.Path)
	case task.Before != nil && task.After != nil:
		req = prompts.BugVerdict(task)
	default:
		return
	}

	var reply dto.BugReply
	if err := w.oracle.Ask(ctx, req, &reply); err != nil {
		w.logger.Warn("bug verdict unavailable, assuming no bug", "action", task.ActionDescription, "error", err)
		return
	}
	if !reply.HasBug {
		return
	}

	verdict := domain.BugVerdict{
		HasBug:      true,
		BugType:     normalizeBugType(reply.BugType),
		Description: reply.BugDescription,
	}
	// Single consumer: the number is only claimed once the bundle is on disk.
	n := int(w.bugs.Load()) + 1
	if err := w.writeBundle(ctx, n, task, verdict); err != nil {
		w.logger.Error("failed to write bug bundle", "bug", n, "error", err)
		return
	}
	w.bugs.Add(1)
	w.logger.Info("bug detected", "bug", n, "type", verdict.BugType, "action", task.ActionDescription)
	if w.onBug != nil {
		w.onBug(n, verdict)
	}
}

func normalizeBugType(s string) domain.BugType {
	switch domain.BugType(strings.ToLower(strings.TrimSpace(s))) {
	case domain.BugTypeCrash:
		return domain.BugTypeCrash
	case domain.BugTypeNone:
		return domain.BugTypeNone
	default:
		return domain.BugTypeFunctional
	}
}

type artifact struct {
	name string
	data []byte
}

func (w *Worker) writeBundle(ctx context.Context, n int, task domain.DiagnosticTask, v domain.BugVerdict) error {
	bundle := fmt.Sprintf("%s%d", w.prefix, n)
	rec := BugRecord{
		BugVerdict: v,
		Action:     task.ActionDescription,
		Expected:   task.ExpectedPostcondition,
	}

	var files []artifact
	if len(task.Path) > 0 {
		for i, step := range task.Path {
			name := fmt.Sprintf("step_%02d.png", i+1)
			files = append(files, artifact{name, step.Image})
			rec.PathRecord = append(rec.PathRecord, PathEntry{Step: i + 1, Description: step.Description})
		}
	} else {
		files = append(files, artifact{"before.png", task.Before.Image}, artifact{"after.png", task.After.Image})
	}

	record, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bug record: %w", err)
	}
	files = append(files, artifact{"bug.json", record})

	for _, f := range files {
		if err := w.sink.WriteArtifact(ctx, bundle, f.name, f.data); err != nil {
			return fmt.Errorf("failed to write %s/%s: %w", bundle, f.name, err)
		}
	}
	return nil
}
