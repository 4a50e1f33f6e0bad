package coverage_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/droidscout/internal/coverage"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	snaps []domain.CoverageSnapshot
}

func (r *recordingSink) WriteCoverage(ctx context.Context, runID string, snap domain.CoverageSnapshot) error {
	r.snaps = append(r.snaps, snap)
	return nil
}

func TestTracker_Snapshot(t *testing.T) {
	tr := coverage.NewTracker("run", "com.app", []string{".Main", "com.app.Settings", "com.app.About"}, nil)
	tr.Visit(".Main")
	tr.Visit("com.app.Main")
	tr.Visit("com.other.Browser")

	snap := tr.Snapshot()
	assert.Equal(t, 3, snap.DeclaredCount)
	assert.Equal(t, 2, snap.VisitedCount)
	assert.Equal(t, 1, snap.HitCount)
	assert.Equal(t, []string{"com.app.Main"}, snap.HitEntities)
	assert.Equal(t, []string{"com.app.Main", "com.other.Browser"}, snap.VisitedEntities)
	assert.InDelta(t, 1.0/3.0, snap.CoverageRatio, 1e-9)
}

func TestTracker_RateLimited(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	tr := coverage.NewTracker("run", "com.app", nil, sink,
		coverage.WithClock(func() time.Time { return now }))

	assert.True(t, tr.MaybeDump(context.Background()))
	now = now.Add(30 * time.Second)
	assert.False(t, tr.MaybeDump(context.Background()))
	now = now.Add(31 * time.Second)
	assert.True(t, tr.MaybeDump(context.Background()))
	tr.Dump(context.Background())

	require.Len(t, sink.snaps, 3)
	assert.Zero(t, sink.snaps[0].CoverageRatio)
}
