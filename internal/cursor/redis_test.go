package cursor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a throwaway redis container and returns its address
func setupRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "failed to start redis container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return host + ":" + port.Port()
}

func TestRedisStore_SaveAndLoad(t *testing.T) {
	addr := setupRedis(t)
	ctx := context.Background()

	store, err := NewRedisStore(ctx, RedisOptions{Addr: addr, KeyPrefix: "test"})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load(ctx, "80-80")
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, "80-80", Checkpoint{LessThan: 8646005800, HighWater: 8646009000, UpdatedAt: at}))

	cp, err := store.Load(ctx, "80-80")
	require.NoError(t, err)
	assert.Equal(t, uint64(8646005800), cp.LessThan)
	assert.Equal(t, uint64(8646009000), cp.HighWater)
	assert.True(t, at.Equal(cp.UpdatedAt))

	// Upsert
	require.NoError(t, store.Save(ctx, "80-80", Checkpoint{LessThan: 8646005000, HighWater: 8646009000}))
	cp, err = store.Load(ctx, "80-80")
	require.NoError(t, err)
	assert.Equal(t, uint64(8646005000), cp.LessThan)
}
