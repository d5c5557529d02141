package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"dex-trade-agent/internal/domain"
	"dex-trade-agent/internal/storage"
)

func setupTestRedis(t *testing.T) (*Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewClient(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	require.NoError(t, err)

	return client, func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	}
}

func TestFailureStateStore_PutGetDelete(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewFailureStateStore(client, "test", time.Hour)
	ctx := context.Background()

	_, err := store.Get(ctx, "ARB")
	require.ErrorIs(t, err, storage.ErrNotFound)

	want := &domain.FailureState{Symbol: "ARB", Count: 3, LastFailure: 1000, DisabledUntil: 5000}
	require.NoError(t, store.Put(ctx, want))
	require.NoError(t, store.Put(ctx, &domain.FailureState{Symbol: "AAVE", Count: 1, LastFailure: 10}))

	got, err := store.Get(ctx, "ARB")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "AAVE", all[0].Symbol)

	require.NoError(t, store.Delete(ctx, "ARB"))
	_, err = store.Get(ctx, "ARB")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFailureStateStore_ExpiredIndexPruned(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	store := NewFailureStateStore(client, "test", time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &domain.FailureState{Symbol: "GMX", Count: 1}))
	require.NoError(t, client.Del(ctx, store.key("GMX")).Err())

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	members, err := client.SMembers(ctx, store.indexKey()).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}
