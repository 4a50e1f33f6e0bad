package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
)

// File names inside a run directory.
const (
	PTGFile             = "ptg.json"
	FDGFile             = "fdg.json"
	CoverageFile        = "coverage.json"
	CoverageHistoryFile = "coverage_history.jsonl"
)

// Store implements ports.RunStore using the local filesystem.
// Each run is a directory holding ptg.json, fdg.json, the page assets and its artifacts.
type Store struct {
	BasePath string

	// guards appends to coverage histories
	mu sync.Mutex
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".droidscout/runs".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".droidscout", "runs")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) runDir(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid runID %q", runID)
	}
	return filepath.Join(s.BasePath, runID), nil
}

// SavePTG writes the graph document and the screen assets it references.
func (s *Store) SavePTG(ctx context.Context, runID string, ptg *domain.PTG) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}

	doc, assets := dto.EncodePTG(ptg)

	rels := make([]string, 0, len(assets))
	for rel := range assets {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeAtomic(filepath.Join(dir, filepath.FromSlash(rel)), assets[rel]); err != nil {
			return fmt.Errorf("failed to write asset %s: %w", rel, err)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ptg: %w", err)
	}
	return writeAtomic(filepath.Join(dir, PTGFile), data)
}

// LoadPTG reads the graph of runID and rebinds its edges.
func (s *Store) LoadPTG(ctx context.Context, runID string) (*domain.PTG, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}

	var doc dto.PTGDocument
	if err := readJSON(filepath.Join(dir, PTGFile), &doc); err != nil {
		return nil, err
	}

	return dto.DecodePTG(&doc, func(rel string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	})
}

// SaveFDG writes the dependency graph of runID.
func (s *Store) SaveFDG(ctx context.Context, runID string, fdg *domain.FDG) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(dto.EncodeFDG(fdg), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fdg: %w", err)
	}
	return writeAtomic(filepath.Join(dir, FDGFile), data)
}

// LoadFDG reads the dependency graph of runID.
func (s *Store) LoadFDG(ctx context.Context, runID string) (*domain.FDG, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	var doc dto.FDGDocument
	if err := readJSON(filepath.Join(dir, FDGFile), &doc); err != nil {
		return nil, err
	}
	return dto.DecodeFDG(&doc), nil
}

// List returns the runs that have a persisted PTG, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.BasePath, entry.Name(), PTGFile)); err == nil {
			runs = append(runs, entry.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// WriteCoverage replaces coverage.json and appends the snapshot to coverage_history.jsonl.
func (s *Store) WriteCoverage(ctx context.Context, runID string, snap domain.CoverageSnapshot) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal coverage: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, CoverageFile), data); err != nil {
		return err
	}

	line, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal coverage: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(dir, CoverageHistoryFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open coverage history: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append coverage history: %w", err)
	}
	return f.Close()
}

// Artifacts returns the sink writing into the directory of runID.
func (s *Store) Artifacts(runID string) ports.ArtifactSink {
	return &artifactSink{store: s, runID: runID}
}

type artifactSink struct {
	store *Store
	runID string
}

func (a *artifactSink) WriteArtifact(ctx context.Context, bundle, name string, data []byte) error {
	dir, err := a.store.runDir(a.runID)
	if err != nil {
		return err
	}
	if name == "" || strings.Contains(bundle, "..") || strings.Contains(name, "..") {
		return fmt.Errorf("invalid artifact %q/%q", bundle, name)
	}
	return writeAtomic(filepath.Join(dir, filepath.FromSlash(bundle), name), data)
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ErrGraphNotFound
		}
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeAtomic writes to a temporary file in the destination directory, syncs it,
// and renames it over destPath.
func writeAtomic(destPath string, data []byte) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "tmp-"+filepath.Base(destPath)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// cannot rename an open file on Windows
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// os.Rename fails on Windows if dest exists
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
