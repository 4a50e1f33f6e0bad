package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/droidscout/pkg/ports"
)

// StatsFile is the artifact name of the token statistics.
const StatsFile = "llm_stats.json"

// TaskStats are the counters of one classifier task.
type TaskStats struct {
	Calls        int64 `json:"calls"`
	Failures     int64 `json:"failures"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// TokenStats is the llm_stats.json document.
type TokenStats struct {
	Timestamp    time.Time            `json:"timestamp"`
	RunID        string               `json:"run_id"`
	Bundle       string               `json:"app_bundle"`
	Calls        int64                `json:"calls"`
	InputTokens  int64                `json:"input_tokens"`
	OutputTokens int64                `json:"output_tokens"`
	TotalTokens  int64                `json:"total_tokens"`
	Tasks        map[string]TaskStats `json:"tasks"`
}

// Instrumentation accounts classifier usage for one run. It is safe for concurrent use.
type Instrumentation struct {
	runID   string
	bundle  string
	metrics *Metrics

	calls        atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64

	mu    sync.Mutex
	tasks map[ports.Task]*TaskStats
}

// NewInstrumentation creates the context for a run. metrics may be nil.
func NewInstrumentation(runID, bundle string, metrics *Metrics) *Instrumentation {
	return &Instrumentation{
		runID:   runID,
		bundle:  bundle,
		metrics: metrics,
		tasks:   make(map[ports.Task]*TaskStats),
	}
}

// Wrap returns a classifier that records every call made through c.
func (in *Instrumentation) Wrap(c ports.Classifier) ports.Classifier {
	return ports.ClassifierFunc(func(ctx context.Context, req ports.Request) (ports.Response, error) {
		start := time.Now()
		resp, err := c.Classify(ctx, req)
		in.record(req.Task, resp, err, time.Since(start))
		return resp, err
	})
}

func (in *Instrumentation) record(task ports.Task, resp ports.Response, err error, took time.Duration) {
	in.calls.Add(1)
	in.inputTokens.Add(int64(resp.InputTokens))
	in.outputTokens.Add(int64(resp.OutputTokens))

	in.mu.Lock()
	ts, ok := in.tasks[task]
	if !ok {
		ts = &TaskStats{}
		in.tasks[task] = ts
	}
	ts.Calls++
	ts.InputTokens += int64(resp.InputTokens)
	ts.OutputTokens += int64(resp.OutputTokens)
	if err != nil {
		ts.Failures++
	}
	in.mu.Unlock()

	if in.metrics != nil {
		in.metrics.observeClassifier(string(task), err, resp, took)
	}
}

// Calls returns the number of classifier calls so far.
func (in *Instrumentation) Calls() int64 {
	return in.calls.Load()
}

// Stats returns a snapshot of the counters.
func (in *Instrumentation) Stats() TokenStats {
	stats := TokenStats{
		Timestamp:    time.Now().UTC(),
		RunID:        in.runID,
		Bundle:       in.bundle,
		Calls:        in.calls.Load(),
		InputTokens:  in.inputTokens.Load(),
		OutputTokens: in.outputTokens.Load(),
		Tasks:        make(map[string]TaskStats),
	}
	stats.TotalTokens = stats.InputTokens + stats.OutputTokens

	in.mu.Lock()
	defer in.mu.Unlock()
	for task, ts := range in.tasks {
		stats.Tasks[string(task)] = *ts
	}
	return stats
}

// WriteStats stores llm_stats.json at the root of the run-scoped sink.
func (in *Instrumentation) WriteStats(ctx context.Context, sink ports.ArtifactSink) error {
	data, err := json.MarshalIndent(in.Stats(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	return sink.WriteArtifact(ctx, "", StatsFile, data)
}
