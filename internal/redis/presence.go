package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceWindow = 30 * time.Second

func presenceKey(workspaceID string) string { return "presence:" + workspaceID }

// Presence tracks which members are currently viewing a workspace board.
type Presence interface {
	// Heartbeat records that memberID is viewing workspaceID now.
	Heartbeat(ctx context.Context, workspaceID, memberID string) error
	// Active returns the member ids seen within the presence window.
	Active(ctx context.Context, workspaceID string) ([]string, error)
}

type presence struct {
	client *redis.Client
}

// NewPresence returns a Redis-backed Presence tracker.
func NewPresence(client *redis.Client) Presence {
	return &presence{client: client}
}

// Heartbeat writes the member into a sorted set scored by timestamp and
// evicts entries older than the window in the same pipeline.
func (p *presence) Heartbeat(ctx context.Context, workspaceID, memberID string) error {
	now := time.Now()
	key := presenceKey(workspaceID)

	pipe := p.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: memberID})
	pipe.ZRemRangeByScore(ctx, key, "0",
		strconv.FormatInt(now.Add(-presenceWindow).UnixNano(), 10))
	pipe.Expire(ctx, key, 2*presenceWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence heartbeat %s/%s: %w", workspaceID, memberID, err)
	}
	return nil
}

func (p *presence) Active(ctx context.Context, workspaceID string) ([]string, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-presenceWindow).UnixNano(), 10)
	members, err := p.client.ZRangeByScore(ctx, presenceKey(workspaceID), &redis.ZRangeBy{
		Min: cutoff,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("presence read %s: %w", workspaceID, err)
	}
	return members, nil
}
