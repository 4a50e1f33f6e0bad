package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
)

type run struct {
	ptg       *dto.PTGDocument
	assets    dto.Assets
	fdg       *dto.FDGDocument
	artifacts map[string][]byte
	coverage  []domain.CoverageSnapshot
}

// Store implements ports.RunStore in memory.
// Graphs are kept in their encoded form so callers never share pointers with the store.
// Safe for concurrent use.
type Store struct {
	runs map[string]*run
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		runs: make(map[string]*run),
	}
}

func (s *Store) get(runID string) *run {
	r, ok := s.runs[runID]
	if !ok {
		r = &run{artifacts: make(map[string][]byte)}
		s.runs[runID] = r
	}
	return r
}

// SavePTG stores an encoded copy of ptg.
func (s *Store) SavePTG(ctx context.Context, runID string, ptg *domain.PTG) error {
	doc, shared := dto.EncodePTG(ptg)
	assets := make(dto.Assets, len(shared))
	for rel, blob := range shared {
		assets[rel] = append([]byte(nil), blob...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(runID)
	r.ptg = doc
	r.assets = assets
	return nil
}

// LoadPTG decodes a fresh graph from the stored copy.
func (s *Store) LoadPTG(ctx context.Context, runID string) (*domain.PTG, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok || r.ptg == nil {
		return nil, domain.ErrGraphNotFound
	}
	assets := r.assets
	return dto.DecodePTG(r.ptg, func(rel string) ([]byte, error) {
		return append([]byte(nil), assets[rel]...), nil
	})
}

// SaveFDG stores an encoded copy of fdg.
func (s *Store) SaveFDG(ctx context.Context, runID string, fdg *domain.FDG) error {
	doc := dto.EncodeFDG(fdg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(runID).fdg = doc
	return nil
}

// LoadFDG decodes a fresh dependency graph from the stored copy.
func (s *Store) LoadFDG(ctx context.Context, runID string) (*domain.FDG, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[runID]
	if !ok || r.fdg == nil {
		return nil, domain.ErrGraphNotFound
	}
	return dto.DecodeFDG(r.fdg), nil
}

// List returns the runs holding a PTG, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]string, 0, len(s.runs))
	for id, r := range s.runs {
		if r.ptg != nil {
			runs = append(runs, id)
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// WriteCoverage appends snap to the run history.
func (s *Store) WriteCoverage(ctx context.Context, runID string, snap domain.CoverageSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(runID)
	r.coverage = append(r.coverage, snap)
	return nil
}

// CoverageHistory returns the snapshots written for runID, oldest first.
func (s *Store) CoverageHistory(runID string) []domain.CoverageSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil
	}
	return append([]domain.CoverageSnapshot(nil), r.coverage...)
}

// Artifacts returns the sink of runID.
func (s *Store) Artifacts(runID string) ports.ArtifactSink {
	return &artifactSink{store: s, runID: runID}
}

// Artifact returns a stored blob and whether it exists.
func (s *Store) Artifact(runID, bundle, name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	data, ok := r.artifacts[artifactPath(bundle, name)]
	return data, ok
}

// ArtifactNames lists the stored artifact paths of runID, sorted.
func (s *Store) ArtifactNames(runID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(r.artifacts))
	for name := range r.artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func artifactPath(bundle, name string) string {
	if bundle == "" {
		return name
	}
	return bundle + "/" + name
}

type artifactSink struct {
	store *Store
	runID string
}

func (a *artifactSink) WriteArtifact(ctx context.Context, bundle, name string, data []byte) error {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	a.store.get(a.runID).artifacts[artifactPath(bundle, name)] = append([]byte(nil), data...)
	return nil
}
