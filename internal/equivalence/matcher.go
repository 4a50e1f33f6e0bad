// Package equivalence decides whether a captured screen is a page already present in the PTG.
package equivalence

import (
	"context"
	"log/slog"

	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/internal/oracle"
	"github.com/aretw0/droidscout/internal/prompts"
	"github.com/aretw0/droidscout/pkg/domain"
)

// Distance limits for the hash fast paths.
const (
	FingerprintMaxDistance = 4
	VisualMaxDistance      = 2
)

// Reason explains which rule produced a Resolution.
type Reason string

const (
	ReasonNoContainer       Reason = "no_container"
	ReasonEmptyBucket       Reason = "empty_bucket"
	ReasonFingerprint       Reason = "fingerprint"
	ReasonVisual            Reason = "visual"
	ReasonSimilarity        Reason = "similarity"
	ReasonClassifierSame    Reason = "classifier_same"
	ReasonClassifierDiffers Reason = "classifier_differs"
	ReasonClassifierFailed  Reason = "classifier_failed"
)

// Resolution is the outcome of Resolve. When Existing is false, Index is the index the
// new page will receive if the caller adds it.
type Resolution struct {
	Index    int
	Existing bool
	Reason   Reason
	Score    float64
}

// Matcher resolves screens against the pages of a PTG.
type Matcher struct {
	oracle    *oracle.Oracle
	weights   Weights
	threshold float64
	logger    *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithWeights overrides DefaultWeights.
func WithWeights(w Weights) Option {
	return func(m *Matcher) {
		m.weights = w
	}
}

// WithThreshold sets the score a candidate must exceed to be accepted (default 0.90).
func WithThreshold(t float64) Option {
	return func(m *Matcher) {
		m.threshold = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = l
	}
}

// NewMatcher creates a Matcher. A nil oracle disables classifier arbitration:
// undecided screens are then treated as new.
func NewMatcher(o *oracle.Oracle, opts ...Option) *Matcher {
	m := &Matcher{
		oracle:    o,
		weights:   DefaultWeights,
		threshold: 0.90,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resolve finds the page of g that snap shows. It never mutates g.
func (m *Matcher) Resolve(ctx context.Context, g *domain.PTG, snap *domain.Snapshot) Resolution {
	fresh := Resolution{Index: g.NextIndex()}

	if snap == nil || snap.ContainerIdentity == "" {
		fresh.Reason = ReasonNoContainer
		return fresh
	}

	var candidates []*domain.PageNode
	for _, idx := range g.Candidates(snap.ContainerIdentity) {
		if n := g.Node(idx); n != nil && n.Snapshot != nil {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		fresh.Reason = ReasonEmptyBucket
		return fresh
	}

	for _, c := range candidates {
		d := HashDistance(snap.PerceptualHash, c.Snapshot.PerceptualHash)
		if snap.HasFingerprint() && snap.StructuralFingerprint == c.Snapshot.StructuralFingerprint && d <= FingerprintMaxDistance {
			return Resolution{Index: c.Index, Existing: true, Reason: ReasonFingerprint, Score: 1}
		}
		if d <= VisualMaxDistance {
			return Resolution{Index: c.Index, Existing: true, Reason: ReasonVisual, Score: 1}
		}
	}

	best, bestScore := candidates[0], -1.0
	for _, c := range candidates {
		if s := m.weights.Similarity(snap, c.Snapshot); s > bestScore {
			best, bestScore = c, s
		}
	}
	if bestScore > m.threshold {
		return Resolution{Index: best.Index, Existing: true, Reason: ReasonSimilarity, Score: bestScore}
	}

	fresh.Score = bestScore
	if m.oracle == nil {
		fresh.Reason = ReasonClassifierFailed
		return fresh
	}

	var verdict dto.SamePageReply
	if err := m.oracle.Ask(ctx, prompts.SamePage(best.Snapshot, snap), &verdict); err != nil {
		m.logger.Warn("page equivalence undecided, treating as new page", "candidate", best.Index, "error", err)
		fresh.Reason = ReasonClassifierFailed
		return fresh
	}
	if verdict.IsSamePage {
		return Resolution{Index: best.Index, Existing: true, Reason: ReasonClassifierSame, Score: bestScore}
	}
	fresh.Reason = ReasonClassifierDiffers
	return fresh
}
