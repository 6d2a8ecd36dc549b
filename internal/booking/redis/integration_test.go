//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"ms-booking/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestHoldMarkerExpiryNotification needs a real server: miniredis does not
// emit keyspace events.
func TestHoldMarkerExpiryNotification(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			Cmd:          []string{"redis-server", "--notify-keyspace-events", "Ex"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()
	r := NewRedis(client, logger.NewDiscard(), time.Second)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	expired := make(chan string, 1)
	require.NoError(t, r.SubscribeExpirations(subCtx, func(_ context.Context, bookingID string) {
		expired <- bookingID
	}))

	require.NoError(t, r.MarkHold(ctx, "bk-expiring", time.Second))
	require.NoError(t, r.MarkHold(ctx, "bk-cleared", time.Second))
	require.NoError(t, r.ClearHold(ctx, "bk-cleared"))

	select {
	case id := <-expired:
		assert.Equal(t, "bk-expiring", id)
	case <-time.After(10 * time.Second):
		t.Fatal("no expiry notification received")
	}

	// a cleared marker never fires
	select {
	case id := <-expired:
		t.Fatalf("unexpected expiry for %s", id)
	case <-time.After(1500 * time.Millisecond):
	}
}
