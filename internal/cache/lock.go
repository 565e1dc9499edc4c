package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Leader is a SETNX-with-TTL lease so that singleton workers (premium
// sweeper, relation reconciler) run on one instance at a time.
type Leader struct {
	client     *redis.Client
	key        string
	instanceID string
	ttl        time.Duration
}

// NewLeader creates a lease on key for instanceID.
func (c *RedisCache) NewLeader(key, instanceID string, ttl time.Duration) *Leader {
	return &Leader{client: c.Client, key: "leader:" + key, instanceID: instanceID, ttl: ttl}
}

// Acquire takes the lease or extends it when this instance already holds it.
func (l *Leader) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire %s: %w", l.key, err)
	}
	if ok {
		return true, nil
	}

	holder, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", l.key, err)
	}
	if holder != l.instanceID {
		return false, nil
	}
	if err := l.client.Expire(ctx, l.key, l.ttl).Err(); err != nil {
		return false, fmt.Errorf("failed to renew %s: %w", l.key, err)
	}
	return true, nil
}

// Release drops the lease if this instance still holds it.
func (l *Leader) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.instanceID).Err()
}
