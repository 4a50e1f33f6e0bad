package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/droidscout/pkg/adapters/redis"
	"github.com/aretw0/droidscout/pkg/domain"
	"github.com/aretw0/droidscout/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	ports.RunGraphStoreContract(t, store)
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()

	require.NoError(t, store.SavePTG(ctx, "run-ttl", ports.SamplePTG()))

	runs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, runs, "run-ttl")

	mr.FastForward(2 * time.Second)

	_, err = store.LoadPTG(ctx, "run-ttl")
	assert.ErrorIs(t, err, domain.ErrGraphNotFound)

	// List prunes against the wall clock
	time.Sleep(1200 * time.Millisecond)

	runs, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	require.NoError(t, store.SavePTG(ctx, "my-run", ports.SamplePTG()))

	assert.True(t, mr.Exists("custom:app:my-run:ptg"))
	assert.True(t, mr.Exists("custom:app:my-run:asset:pages/0/screenshot.png"))
	assert.True(t, mr.Exists("custom:app:index"))
	assert.False(t, mr.Exists("custom:app:my-run:asset:pages/2/screenshot.png"))
}

func TestRedisStore_ArtifactsAndCoverage(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	sink := store.Artifacts("run1")
	require.NoError(t, sink.WriteArtifact(ctx, "bug1", "before.png", []byte("png")))
	require.NoError(t, sink.WriteArtifact(ctx, "", "llm_stats.json", []byte("{}")))

	blob, err := store.Artifact(ctx, "run1", "bug1", "before.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), blob)

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.WriteCoverage(ctx, "run1", domain.CoverageSnapshot{HitCount: i}))
	}
	history, err := store.CoverageHistory(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[2].HitCount)
}
