package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the engine.
type Metrics struct {
	registry *prometheus.Registry

	classifierCalls    *prometheus.CounterVec
	classifierTokens   *prometheus.CounterVec
	classifierDuration *prometheus.HistogramVec
	pages              prometheus.Counter
	actions            *prometheus.CounterVec
	actionDuration     *prometheus.HistogramVec
	demotions          prometheus.Counter
	recoveries         *prometheus.CounterVec
	bugs               *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		classifierCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "droidscout_classifier_calls_total",
				Help: "Total number of classifier calls",
			},
			[]string{"task", "outcome"},
		),
		classifierTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "droidscout_classifier_tokens_total",
				Help: "Tokens consumed by classifier calls",
			},
			[]string{"task", "direction"},
		),
		classifierDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "droidscout_classifier_duration_seconds",
				Help:    "Duration of classifier calls",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
			},
			[]string{"task"},
		),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "droidscout_pages_discovered_total",
			Help: "Total number of distinct pages added to the PTG",
		}),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "droidscout_actions_total",
				Help: "Total number of device actions dispatched",
			},
			[]string{"action", "outcome"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "droidscout_action_duration_seconds",
				Help: "Duration of device actions",
			},
			[]string{"action"},
		),
		demotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "droidscout_edges_demoted_total",
			Help: "Edges turned into self-loop leaves after a failed attempt",
		}),
		recoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "droidscout_recoveries_total",
				Help: "Navigation recoveries by outcome",
			},
			[]string{"outcome"},
		),
		bugs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "droidscout_bugs_total",
				Help: "Bug bundles written by type",
			},
			[]string{"type"},
		),
	}
	m.registry.MustRegister(
		m.classifierCalls, m.classifierTokens, m.classifierDuration,
		m.pages, m.actions, m.actionDuration, m.demotions, m.recoveries, m.bugs,
	)
	return m
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeClassifier(task string, err error, resp ports.Response, took time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.classifierCalls.WithLabelValues(task, outcome).Inc()
	m.classifierTokens.WithLabelValues(task, "input").Add(float64(resp.InputTokens))
	m.classifierTokens.WithLabelValues(task, "output").Add(float64(resp.OutputTokens))
	m.classifierDuration.WithLabelValues(task).Observe(took.Seconds())
}

// BugReported counts a written bug bundle.
func (m *Metrics) BugReported(t domain.BugType) {
	m.bugs.WithLabelValues(string(t)).Inc()
}

// Hooks returns lifecycle hooks that record exploration events.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnPageDiscovered: func(ctx context.Context, e *domain.PageEvent) {
			m.pages.Inc()
		},
		OnAction: func(ctx context.Context, e *domain.ActionEvent) {
			outcome := "ok"
			if e.IsError {
				outcome = "error"
			}
			m.actions.WithLabelValues(string(e.Action), outcome).Inc()
			m.actionDuration.WithLabelValues(string(e.Action)).Observe(e.Duration.Seconds())
		},
		OnEdgeDemoted: func(ctx context.Context, e *domain.ActionEvent) {
			m.demotions.Inc()
		},
		OnRecovery: func(ctx context.Context, e *domain.RecoveryEvent) {
			m.recoveries.WithLabelValues(e.Outcome).Inc()
		},
	}
}

// ChainHooks combines several hook sets; each callback runs in order.
func ChainHooks(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range sets {
		h := h
		if h.OnPageEnter != nil {
			prev := out.OnPageEnter
			out.OnPageEnter = func(ctx context.Context, e *domain.PageEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnPageEnter(ctx, e)
			}
		}
		if h.OnPageDiscovered != nil {
			prev := out.OnPageDiscovered
			out.OnPageDiscovered = func(ctx context.Context, e *domain.PageEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnPageDiscovered(ctx, e)
			}
		}
		if h.OnAction != nil {
			prev := out.OnAction
			out.OnAction = func(ctx context.Context, e *domain.ActionEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnAction(ctx, e)
			}
		}
		if h.OnEdgeDemoted != nil {
			prev := out.OnEdgeDemoted
			out.OnEdgeDemoted = func(ctx context.Context, e *domain.ActionEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnEdgeDemoted(ctx, e)
			}
		}
		if h.OnRecovery != nil {
			prev := out.OnRecovery
			out.OnRecovery = func(ctx context.Context, e *domain.RecoveryEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				h.OnRecovery(ctx, e)
			}
		}
	}
	return out
}
