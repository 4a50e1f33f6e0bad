package ports

import (
	"context"

	"github.com/aretw0/droidscout/pkg/domain"
)

// GraphStore persists exploration results.
// Load methods return domain.ErrGraphNotFound if the run has no such document.
type GraphStore interface {
	SavePTG(ctx context.Context, runID string, ptg *domain.PTG) error
	LoadPTG(ctx context.Context, runID string) (*domain.PTG, error)
	SaveFDG(ctx context.Context, runID string, fdg *domain.FDG) error
	LoadFDG(ctx context.Context, runID string) (*domain.FDG, error)

	// List returns the IDs of runs with at least a persisted PTG.
	List(ctx context.Context) ([]string, error)
}

// ArtifactSink stores named blobs of one run, grouped in bundles (e.g. "bug3/before.png").
// An empty bundle addresses the run root.
type ArtifactSink interface {
	WriteArtifact(ctx context.Context, bundle, name string, data []byte) error
}

// CoverageSink records coverage snapshots: the latest one plus an append-only history.
type CoverageSink interface {
	WriteCoverage(ctx context.Context, runID string, snap domain.CoverageSnapshot) error
}

// RunStore is a GraphStore that can also hand out the run-scoped sinks.
type RunStore interface {
	GraphStore
	CoverageSink
	Artifacts(runID string) ArtifactSink
}

// UnitCatalog publishes the functional units of a run as one document each,
// so they can be read and edited (e.g. the to-test selection) without the FDG blob.
type UnitCatalog interface {
	SaveUnits(ctx context.Context, runID string, fdg *domain.FDG) error
	LoadUnits(ctx context.Context, runID string) (*domain.FDG, error)
	// Unit returns domain.ErrUnitNotFound when the run has no unit with that index.
	Unit(ctx context.Context, runID string, index int) (*domain.FunctionalUnit, error)
}
