package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"sharp-job-service/internal/cache"
)

func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := cache.NewClient("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisCache(client)
}

func TestRateLimitKey(t *testing.T) {
	at := time.Unix(120, 0)
	assert.Equal(t, "ratelimit:10.0.0.1:2", cache.RateLimitKey("10.0.0.1", at))
	assert.Equal(t, cache.RateLimitKey("10.0.0.1", at), cache.RateLimitKey("10.0.0.1", at.Add(59*time.Second)))
	assert.NotEqual(t, cache.RateLimitKey("10.0.0.1", at), cache.RateLimitKey("10.0.0.1", at.Add(60*time.Second)))
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := cache.NewClient("http://localhost:6379")
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := rc.IncrWithExpiry(ctx, "ratelimit:test", time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	time.Sleep(1500 * time.Millisecond)
	n, err := rc.IncrWithExpiry(ctx, "ratelimit:test", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
