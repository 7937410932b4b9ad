//go:build integration

package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	addr, err := c.Endpoint(ctx, "")
	require.NoError(t, err)

	cache := NewRedisCache(RedisOptions{Addr: addr})
	defer cache.Close()
	require.NoError(t, cache.Ping(ctx))

	_, ok, err := cache.Get(ctx, "hh:go")
	require.NoError(t, err)
	assert.False(t, ok)

	want := []Candidate{{Title: "Go", Company: "Acme", Link: "1", Source: "hh"}}
	require.NoError(t, cache.Set(ctx, "hh:go", want, time.Minute))
	got, ok, err := cache.Get(ctx, "hh:go")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}
