package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channels used across instances.
const (
	ChannelPresence = "events:presence"
	ChannelMatch    = "events:match"
)

// Publish sends v as a JSON payload on channel.
func (c *RedisCache) Publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", channel, err)
	}
	return c.Client.Publish(ctx, channel, data).Err()
}

// Subscription is an active Pub/Sub subscription. Raw payloads arrive on C;
// Close must be called on teardown or the receiving goroutine leaks.
type Subscription struct {
	sub    *redis.PubSub
	C      <-chan []byte
	cancel context.CancelFunc
}

// Close unsubscribes and stops delivery. C is closed afterwards.
func (s *Subscription) Close() {
	s.cancel()
	_ = s.sub.Close()
}

// Subscribe listens on channel. The subscription is confirmed before
// returning, so messages published afterwards are not lost.
// Slow receivers drop messages rather than stall the connection.
func (c *RedisCache) Subscribe(ctx context.Context, channel string, buffer int) (*Subscription, error) {
	sub := c.Client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan []byte, buffer)

	go func() {
		defer close(ch)
		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case ch <- []byte(msg.Payload):
				default:
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{sub: sub, C: ch, cancel: cancel}, nil
}
