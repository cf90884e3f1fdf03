package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestDeliveryKey(t *testing.T) {
	id := uuid.MustParse("6f1c2f7e-0000-4000-8000-000000000001")
	assert.Equal(t, "notify:6f1c2f7e-0000-4000-8000-000000000001:3", DeliveryKey(id, 3))
}

func TestMemoryGuard(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewMemoryGuard(time.Minute)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = g.Acquire(ctx, "a")
	assert.False(t, ok)

	ok, _ = g.Acquire(ctx, "b")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = g.Acquire(ctx, "a")
	assert.True(t, ok, "expired keys may be acquired again")
}

func TestMemoryGuard_NoTTL(t *testing.T) {
	g := NewMemoryGuard(0)
	ctx := context.Background()
	ok, _ := g.Acquire(ctx, "k")
	assert.True(t, ok)
	ok, _ = g.Acquire(ctx, "k")
	assert.False(t, ok)
}

func TestNewRedisGuard_InvalidURL(t *testing.T) {
	_, err := NewRedisGuard("not a url", time.Minute)
	assert.Error(t, err)
}

func TestRedisGuard_Acquire(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	g, err := NewRedisGuard("redis://"+host+":"+port.Port(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	require.NoError(t, g.Ping(ctx))

	key := DeliveryKey(uuid.New(), 1)
	ok, err := g.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Acquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
