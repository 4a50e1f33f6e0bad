package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/droidscout/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/droidscout/pkg/adapters/redis"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/aretw0/droidscout/pkg/session"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exclusive fails the test if fn bodies overlap.
type exclusive struct {
	active  atomic.Int32
	overlap atomic.Bool
}

func (e *exclusive) run(ctx context.Context) error {
	if e.active.Add(1) > 1 {
		e.overlap.Store(true)
	}
	time.Sleep(10 * time.Millisecond)
	e.active.Add(-1)
	return nil
}

func TestManager_LeaseSerializesDevice(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()
	var guard exclusive

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, manager.Lease(ctx, "emulator-5554", guard.run))
		}()
	}
	wg.Wait()
	assert.False(t, guard.overlap.Load(), "two explorations drove the same device")
}

func TestManager_DifferentDevicesRunInParallel(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()

	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = manager.Lease(ctx, "emulator-5554", func(context.Context) error {
			close(inside)
			<-release
			return nil
		})
	}()
	<-inside

	done := make(chan error, 1)
	go func() {
		done <- manager.Lease(ctx, "emulator-5556", func(context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lease on another device blocked")
	}
	close(release)
}

func TestManager_SaveAndLoadRun(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()

	require.NoError(t, manager.SaveRun(ctx, "run-1", ports.SamplePTG(), nil))
	ptg, fdg, err := manager.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, ptg.Len())
	assert.Nil(t, fdg, "FDG not built yet")

	require.NoError(t, manager.SaveRun(ctx, "run-1", ptg, &domain.FDG{Units: []*domain.FunctionalUnit{{FunctionDescription: "Root"}}}))
	_, fdg, err = manager.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, fdg.Units, 1)

	_, _, err = manager.LoadRun(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrGraphNotFound)

	runs, err := manager.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, runs)
}

func TestManager_DistributedLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	locker := redisAdapter.NewLocker(client, "droidscout:")
	// Two managers stand in for two processes sharing a device farm.
	a := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLeaseTTL(time.Minute))
	b := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLeaseTTL(time.Minute))
	ctx := context.Background()

	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = a.Lease(ctx, "emulator-5554", func(context.Context) error {
			close(inside)
			<-release
			return nil
		})
	}()
	<-inside
	assert.True(t, mr.Exists("droidscout:lock:device:emulator-5554"))

	short, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	err := b.Lease(short, "emulator-5554", func(context.Context) error { return nil })
	assert.ErrorContains(t, err, "failed to acquire distributed lock")

	close(release)
	require.Eventually(t, func() bool {
		return !mr.Exists("droidscout:lock:device:emulator-5554")
	}, time.Second, 10*time.Millisecond)
	assert.NoError(t, b.Lease(ctx, "emulator-5554", func(context.Context) error { return nil }))
}
