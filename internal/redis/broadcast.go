// Package redis carries the realtime side channels of the board: the tasks
// broadcast channel, viewer presence, and per-actor mutation rate limiting.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Markk-dev/Temet-sub000/internal/domain"
)

// Broadcaster publishes mutation events to every connected client.
// Delivery is fire-and-forget: a failed publish is the caller's to log, the
// persisted state is already correct.
type Broadcaster interface {
	Publish(ctx context.Context, ev domain.Event) error
	Close() error
}

// Subscriber delivers raw broadcast frames from the tasks channel. Decoding
// and recovery policy live with the consumer.
type Subscriber interface {
	Frames(ctx context.Context) (<-chan []byte, error)
	Close() error
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

type broadcaster struct {
	client *redis.Client
}

// NewBroadcaster returns a Broadcaster publishing on the tasks channel.
func NewBroadcaster(client *redis.Client) Broadcaster {
	return &broadcaster{client: client}
}

func (b *broadcaster) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}
	if err := b.client.Publish(ctx, domain.BroadcastChannel, data).Err(); err != nil {
		return &domain.BroadcastError{Event: string(ev.Type), Err: err}
	}
	return nil
}

func (b *broadcaster) Close() error { return nil }

type subscriber struct {
	client *redis.Client
	logger *slog.Logger
	pubsub *redis.PubSub
}

// NewSubscriber returns a Subscriber on the tasks channel.
func NewSubscriber(client *redis.Client, logger *slog.Logger) Subscriber {
	return &subscriber{client: client, logger: logger}
}

// Frames subscribes and pumps message payloads until ctx is cancelled. The
// returned channel is closed on shutdown.
func (s *subscriber) Frames(ctx context.Context) (<-chan []byte, error) {
	s.pubsub = s.client.Subscribe(ctx, domain.BroadcastChannel)
	// Force the subscription to be established before returning, so a
	// caller can publish immediately after.
	if _, err := s.pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", domain.BroadcastChannel, err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		ch := s.pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *subscriber) Close() error {
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
