package redis

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLocker_SerializesSameReference(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	locked, err := locker.Lock(ctx, "psp-ref-1", "delivery-1")
	require.NoError(t, err)
	assert.True(t, locked)

	// A second delivery of the same reference must wait its turn.
	locked, err = locker.Lock(ctx, "psp-ref-1", "delivery-2")
	require.NoError(t, err)
	assert.False(t, locked)

	// A different reference is unaffected.
	locked, err = locker.Lock(ctx, "psp-ref-2", "delivery-3")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, locker.Unlock(ctx, "psp-ref-1", "delivery-1"))

	locked, err = locker.Lock(ctx, "psp-ref-1", "delivery-2")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestLocker_OnlyOwnerReleases(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	locked, err := locker.Lock(ctx, "psp-ref-1", "delivery-1")
	require.NoError(t, err)
	require.True(t, locked)

	// A non-owner release leaves the lock in place.
	require.NoError(t, locker.Unlock(ctx, "psp-ref-1", "delivery-2"))

	locked, err = locker.Lock(ctx, "psp-ref-1", "delivery-3")
	require.NoError(t, err)
	assert.False(t, locked, "the lock still belongs to delivery-1")

	require.NoError(t, locker.Unlock(ctx, "psp-ref-1", "delivery-1"))
}

func TestLocker_UnlockMissingKeyIsNoOp(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewLocker(client)

	assert.NoError(t, locker.Unlock(context.Background(), "psp-ref-never-locked", "delivery-1"))
}
