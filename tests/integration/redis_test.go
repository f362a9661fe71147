//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Markk-dev/Temet-sub000/internal/domain"
	redisstore "github.com/Markk-dev/Temet-sub000/internal/redis"
)

func newTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	client := redisstore.NewClient(testRedisAddr)
	t.Cleanup(func() {
		client.FlushDB(context.Background()) //nolint:errcheck
		client.Close()                       //nolint:errcheck
	})
	return client
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBroadcast_PublishReachesSubscriber(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := newTestRedis(t)
	bc := redisstore.NewBroadcaster(client)
	sub := redisstore.NewSubscriber(client, quietLogger())
	t.Cleanup(func() { sub.Close() }) //nolint:errcheck

	frames, err := sub.Frames(ctx)
	require.NoError(t, err)

	detail := domain.TaskDetail{Task: domain.Task{
		ID: "t1", Name: "broadcast me", Status: domain.StatusTodo, WorkspaceID: "w1", Position: 1000,
	}}
	require.NoError(t, bc.Publish(ctx, domain.NewTaskEvent(domain.EventTaskCreated, detail)))

	select {
	case frame := <-frames:
		var ev domain.Event
		require.NoError(t, json.Unmarshal(frame, &ev))
		assert.Equal(t, domain.EventTaskCreated, ev.Type)
		require.NotNil(t, ev.Payload.Task)
		assert.Equal(t, "t1", ev.Payload.Task.ID)
	case <-ctx.Done():
		t.Fatal("broadcast frame never arrived")
	}
}

func TestPresence_HeartbeatWindow(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	presence := redisstore.NewPresence(client)

	require.NoError(t, presence.Heartbeat(ctx, "w1", "m1"))
	require.NoError(t, presence.Heartbeat(ctx, "w1", "m2"))
	require.NoError(t, presence.Heartbeat(ctx, "w2", "m3"))

	active, err := presence.Active(ctx, "w1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, active)

	active, err = presence.Active(ctx, "w2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m3"}, active)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	limiter := redisstore.NewRateLimiter(client, 3, 10*time.Second)

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, err := limiter.Allow(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok, "fourth request should be limited")

	// Other actors have their own window.
	ok, err = limiter.Allow(ctx, "m2")
	require.NoError(t, err)
	assert.True(t, ok)
}
