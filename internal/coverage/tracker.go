// Package coverage tracks which declared containers an exploration has reached.
package coverage

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
)

// Tracker accumulates visited containers and periodically writes coverage snapshots.
type Tracker struct {
	runID    string
	bundle   string
	sink     ports.CoverageSink
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	declared map[string]bool
	visited  map[string]bool
	last     time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithInterval sets the minimum time between two periodic dumps (default 1m).
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		t.interval = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// NewTracker creates a tracker for the declared containers of bundle.
// A nil sink keeps coverage in memory only.
func NewTracker(runID, bundle string, declared []string, sink ports.CoverageSink, opts ...Option) *Tracker {
	t := &Tracker{
		runID:    runID,
		bundle:   bundle,
		sink:     sink,
		interval: time.Minute,
		now:      time.Now,
		logger:   logging.NewNop(),
		declared: make(map[string]bool),
		visited:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, d := range declared {
		if d = t.normalize(d); d != "" {
			t.declared[d] = true
		}
	}
	return t
}

// normalize expands ".Main" style names relative to the bundle.
func (t *Tracker) normalize(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, ".") && t.bundle != "" {
		return t.bundle + name
	}
	return name
}

// Visit records that a container was shown.
func (t *Tracker) Visit(container string) {
	if container = t.normalize(container); container == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visited[container] = true
}

// Snapshot computes the current coverage.
func (t *Tracker) Snapshot() domain.CoverageSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := domain.CoverageSnapshot{
		Timestamp:       t.now().UTC(),
		DeclaredCount:   len(t.declared),
		VisitedCount:    len(t.visited),
		HitEntities:     []string{},
		VisitedEntities: make([]string, 0, len(t.visited)),
	}
	for v := range t.visited {
		snap.VisitedEntities = append(snap.VisitedEntities, v)
		if t.declared[v] {
			snap.HitEntities = append(snap.HitEntities, v)
		}
	}
	sort.Strings(snap.VisitedEntities)
	sort.Strings(snap.HitEntities)
	snap.HitCount = len(snap.HitEntities)
	if snap.DeclaredCount > 0 {
		snap.CoverageRatio = float64(snap.HitCount) / float64(snap.DeclaredCount)
	}
	return snap
}

// MaybeDump writes a snapshot if the interval has elapsed since the previous one.
func (t *Tracker) MaybeDump(ctx context.Context) bool {
	t.mu.Lock()
	due := t.last.IsZero() || t.now().Sub(t.last) >= t.interval
	if due {
		t.last = t.now()
	}
	t.mu.Unlock()
	if !due {
		return false
	}
	t.write(ctx)
	return true
}

// Dump writes a snapshot unconditionally.
func (t *Tracker) Dump(ctx context.Context) {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()
	t.write(ctx)
}

func (t *Tracker) write(ctx context.Context) {
	if t.sink == nil {
		return
	}
	snap := t.Snapshot()
	if err := t.sink.WriteCoverage(ctx, t.runID, snap); err != nil {
		t.logger.Warn("failed to write coverage snapshot", "error", err)
		return
	}
	t.logger.Debug("coverage snapshot written", "hit", snap.HitCount, "declared", snap.DeclaredCount)
}
