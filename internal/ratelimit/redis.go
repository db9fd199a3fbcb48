package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript opens a window on the first hit, counts hits inside it and
// refuses to count past the ceiling. The key's TTL is the window, so Redis
// expiry resets the window and reclaims the memory.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local ceiling = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])

	local count = redis.call('GET', key)
	if not count then
		redis.call('SET', key, 1, 'PX', window_ms)
		return 1
	end

	count = tonumber(count)
	if count >= ceiling then
		return 0
	end
	redis.call('INCR', key)
	return 1
`)

// Redis is a Limiter backed by Redis so that several relay instances share
// one view of each connection's windows.
type Redis struct {
	client *redis.Client
	rules  Rules
	prefix string
}

// NewRedis creates a Redis-backed limiter. Keys are namespaced by prefix.
func NewRedis(client *redis.Client, rules Rules, prefix string) *Redis {
	return &Redis{client: client, rules: rules, prefix: prefix}
}

func (r *Redis) key(connID string, c Category) string {
	return r.prefix + connID + ":" + string(c)
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, connID string, c Category) (bool, error) {
	rule, ok := r.rules[c]
	if !ok {
		return true, nil
	}

	allowed, err := fixedWindowScript.Run(ctx, r.client,
		[]string{r.key(connID, c)},
		rule.Ceiling,
		rule.Window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	return allowed == 1, nil
}

// Release implements Limiter.
func (r *Redis) Release(ctx context.Context, connID string) error {
	keys := make([]string, 0, len(r.rules))
	for c := range r.rules {
		keys = append(keys, r.key(connID, c))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to release rate limit windows: %w", err)
	}
	return nil
}
