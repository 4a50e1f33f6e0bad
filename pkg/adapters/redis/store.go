package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/droidscout/internal/dto"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.RunStore using Redis.
//
// Keys of a run share the prefix "<prefix><runID>:": "ptg" and "fdg" hold the
// JSON documents, "asset:<path>" the screen assets, "artifact:<bundle>/<name>"
// the bug bundles, "coverage" the latest coverage and "coverage_history" a list.
// The run index is a ZSET at "<prefix>index".
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for runs.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for runs.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "droidscout:run:",
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Client exposes the underlying client, e.g. to build a Locker on the same connection.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) key(runID, suffix string) string {
	return s.prefix + runID + ":" + suffix
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

func (s *Store) score() float64 {
	if s.ttl == 0 {
		return 4102444800 // 2100-01-01
	}
	return float64(time.Now().Add(s.ttl).Unix())
}

// SavePTG persists the graph document and its assets in one pipeline.
func (s *Store) SavePTG(ctx context.Context, runID string, ptg *domain.PTG) error {
	doc, assets := dto.EncodePTG(ptg)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal ptg: %w", err)
	}

	pipe := s.client.Pipeline()
	for rel, blob := range assets {
		pipe.Set(ctx, s.key(runID, "asset:"+rel), blob, s.ttl)
	}
	pipe.Set(ctx, s.key(runID, "ptg"), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  s.score(),
		Member: runID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// LoadPTG retrieves the graph and its assets.
func (s *Store) LoadPTG(ctx context.Context, runID string) (*domain.PTG, error) {
	var doc dto.PTGDocument
	if err := s.getJSON(ctx, s.key(runID, "ptg"), &doc); err != nil {
		return nil, err
	}

	return dto.DecodePTG(&doc, func(rel string) ([]byte, error) {
		blob, err := s.client.Get(ctx, s.key(runID, "asset:"+rel)).Bytes()
		if err != nil {
			return nil, fmt.Errorf("failed to get asset %s: %w", rel, err)
		}
		return blob, nil
	})
}

// SaveFDG persists the dependency graph.
func (s *Store) SaveFDG(ctx context.Context, runID string, fdg *domain.FDG) error {
	data, err := json.Marshal(dto.EncodeFDG(fdg))
	if err != nil {
		return fmt.Errorf("failed to marshal fdg: %w", err)
	}
	if err := s.client.Set(ctx, s.key(runID, "fdg"), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// LoadFDG retrieves the dependency graph.
func (s *Store) LoadFDG(ctx context.Context, runID string) (*domain.FDG, error) {
	var doc dto.FDGDocument
	if err := s.getJSON(ctx, s.key(runID, "fdg"), &doc); err != nil {
		return nil, err
	}
	return dto.DecodeFDG(&doc), nil
}

func (s *Store) getJSON(ctx context.Context, key string, out any) error {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return domain.ErrGraphNotFound
		}
		return fmt.Errorf("failed to get from redis: %w", err)
	}
	if err := json.Unmarshal(val, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// List returns the indexed runs, pruning expired entries first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired runs: %w", err)
	}

	runs, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// WriteCoverage stores the latest snapshot and appends it to the history list.
func (s *Store) WriteCoverage(ctx context.Context, runID string, snap domain.CoverageSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal coverage: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(runID, "coverage"), data, s.ttl)
	pipe.RPush(ctx, s.key(runID, "coverage_history"), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write coverage: %w", err)
	}
	return nil
}

// CoverageHistory returns every snapshot written for runID, oldest first.
func (s *Store) CoverageHistory(ctx context.Context, runID string) ([]domain.CoverageSnapshot, error) {
	rows, err := s.client.LRange(ctx, s.key(runID, "coverage_history"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read coverage history: %w", err)
	}
	out := make([]domain.CoverageSnapshot, 0, len(rows))
	for _, row := range rows {
		var snap domain.CoverageSnapshot
		if err := json.Unmarshal([]byte(row), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal coverage: %w", err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// Artifacts returns the sink storing blobs under the keys of runID.
func (s *Store) Artifacts(runID string) ports.ArtifactSink {
	return &artifactSink{store: s, runID: runID}
}

// Artifact reads back a blob written through Artifacts(runID).
func (s *Store) Artifact(ctx context.Context, runID, bundle, name string) ([]byte, error) {
	blob, err := s.client.Get(ctx, s.key(runID, artifactKey(bundle, name))).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return blob, nil
}

func artifactKey(bundle, name string) string {
	if bundle == "" {
		return "artifact:" + name
	}
	return "artifact:" + bundle + "/" + name
}

type artifactSink struct {
	store *Store
	runID string
}

func (a *artifactSink) WriteArtifact(ctx context.Context, bundle, name string, data []byte) error {
	s := a.store
	if err := s.client.Set(ctx, s.key(a.runID, artifactKey(bundle, name)), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
