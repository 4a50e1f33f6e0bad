// Package widgets enriches newly discovered pages with the actions available on them.
package widgets

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/internal/oracle"
	"github.com/aretw0/droidscout/internal/prompts"
	"github.com/aretw0/droidscout/pkg/domain"
	"golang.org/x/sync/semaphore"
)

// Job describes one page to enrich. Before is nil for the launch screen.
type Job struct {
	PageIndex int
	Before    *domain.Snapshot
	After     *domain.Snapshot
	Action    string
}

// Extraction is the result of a Job. Workers never touch the PTG; the
// coordinator applies extractions with Apply.
type Extraction struct {
	PageIndex           int
	FunctionDescription string
	Edges               []domain.Edge
	Discarded           bool
	Err                 error
}

// Pipeline runs extraction jobs on a bounded pool shared by every batch.
type Pipeline struct {
	oracle *oracle.Oracle
	bundle string
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency bounds the number of jobs running at once (default 4).
func WithConcurrency(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline creates a pipeline for the application bundle.
func NewPipeline(o *oracle.Oracle, bundle string, opts ...Option) *Pipeline {
	p := &Pipeline{
		oracle: o,
		bundle: bundle,
		sem:    semaphore.NewWeighted(4),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Batch collects the jobs spawned while one page is processed.
// Wait is the fork-join barrier.
type Batch struct {
	wg      sync.WaitGroup
	mu      sync.Mutex
	results []Extraction
}

// NewBatch starts an empty batch.
func (p *Pipeline) NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) add(e Extraction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, e)
}

// Wait blocks until every spawned job has finished and returns the results ordered by page index.
func (b *Batch) Wait() []Extraction {
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]Extraction(nil), b.results...)
	sort.Slice(out, func(i, j int) bool { return out[i].PageIndex < out[j].PageIndex })
	return out
}

// Spawn schedules job on the pool as part of b.
func (p *Pipeline) Spawn(ctx context.Context, b *Batch, job Job) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			b.add(Extraction{PageIndex: job.PageIndex, Err: err})
			return
		}
		defer p.sem.Release(1)
		b.add(p.Extract(ctx, job))
	}()
}

// Extract runs job synchronously.
func (p *Pipeline) Extract(ctx context.Context, job Job) Extraction {
	ext := Extraction{PageIndex: job.PageIndex}
	after := job.After
	if after == nil {
		ext.Discarded = true
		return ext
	}
	if p.bundle != "" && after.Bundle != "" && after.Bundle != p.bundle {
		p.logger.Info("page left the application, skipping widget extraction",
			"page", job.PageIndex, "bundle", after.Bundle)
		ext.Discarded = true
		return ext
	}

	var reply dto.WidgetReply
	if err := p.oracle.Ask(ctx, prompts.WidgetExtraction(p.bundle, job.Before, after, job.Action), &reply); err != nil {
		ext.Err = err
		return ext
	}

	ext.FunctionDescription = reply.FunctionDescription
	for _, w := range reply.Widgets {
		edge := domain.Edge{
			Description:   w.Description,
			Action:        domain.ParseActionKind(w.Action),
			Content:       w.Content,
			IsLeaf:        w.IsLeaf,
			Postcondition: w.Postcondition,
		}
		if x, y, err := oracle.ParsePosition(w.Position); err == nil {
			pt := oracle.Rescale(x, y, after.Width, after.Height)
			edge.Position = &pt
		} else if edge.Action != domain.ActionPressBack {
			p.logger.Debug("dropping widget without usable position",
				"page", job.PageIndex, "widget", w.Description, "error", err)
			continue
		}
		ext.Edges = append(ext.Edges, edge)
	}
	return ext
}

// Apply writes an extraction into its page. Pages that already carry edges keep them.
func Apply(g *domain.PTG, ext Extraction) bool {
	n := g.Node(ext.PageIndex)
	if n == nil || ext.Discarded || ext.Err != nil {
		return false
	}
	if ext.FunctionDescription != "" {
		n.FunctionDescription = ext.FunctionDescription
	}
	if len(n.Edges) == 0 {
		n.Edges = ext.Edges
	}
	return true
}
