package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to devices and to the documents of a run.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.GraphStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker   ports.DistributedLocker // Optional distributed locker
	leaseTTL time.Duration
	runTTL   time.Duration
	logger   *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking, so two processes never drive the same device.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLeaseTTL bounds how long a crashed process can keep a device (default 90m).
func WithLeaseTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.leaseTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over store.
func NewManager(store ports.GraphStore, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		locks:    make(map[string]*lockEntry),
		leaseTTL: 90 * time.Minute,
		runTTL:   30 * time.Second,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(key) after unlocking.
func (m *Manager) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// Lease runs fn while holding exclusive use of the device identified by serial.
func (m *Manager) Lease(ctx context.Context, serial string, fn func(context.Context) error) error {
	if serial == "" {
		serial = "default"
	}
	return m.withLock(ctx, "device:"+serial, m.leaseTTL, fn)
}

// SaveRun persists the PTG and, when not nil, the FDG of a run under the run lock.
func (m *Manager) SaveRun(ctx context.Context, runID string, ptg *domain.PTG, fdg *domain.FDG) error {
	return m.withLock(ctx, "run:"+runID, m.runTTL, func(ctx context.Context) error {
		if err := m.store.SavePTG(ctx, runID, ptg); err != nil {
			return err
		}
		if fdg == nil {
			return nil
		}
		return m.store.SaveFDG(ctx, runID, fdg)
	})
}

// LoadRun loads the PTG of a run and its FDG if one was built. A missing FDG yields nil.
func (m *Manager) LoadRun(ctx context.Context, runID string) (*domain.PTG, *domain.FDG, error) {
	var (
		ptg *domain.PTG
		fdg *domain.FDG
	)
	err := m.withLock(ctx, "run:"+runID, m.runTTL, func(ctx context.Context) error {
		var err error
		ptg, err = m.store.LoadPTG(ctx, runID)
		if err != nil {
			return err
		}
		fdg, err = m.store.LoadFDG(ctx, runID)
		if errors.Is(err, domain.ErrGraphNotFound) {
			fdg, err = nil, nil
		}
		return err
	})
	return ptg, fdg, err
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying graph store.
func (m *Manager) Store() ports.GraphStore {
	return m.store
}

func (m *Manager) withLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	entry := m.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(key)
	}()

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, key, ttl)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			// The caller's context may already be canceled; release on a fresh one.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"key", key,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
