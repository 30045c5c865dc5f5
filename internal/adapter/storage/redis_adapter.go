package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	interactionKeyPrefix = "interaction:"
	commandKeyPrefix     = "commands:"
	interactionKeyTTL    = 15 * time.Minute
)

// allowCommandScript increments the user's counter, starting the window on
// the first hit, and reports whether the count is still within the limit.
var allowCommandScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = redis.call('INCR', key)
if current == 1 then
	redis.call('PEXPIRE', key, window)
end

if current <= limit then
	return 1
end

return 0
`)

type RedisAdapter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisAdapter(client *redis.Client, limit int, window time.Duration) *RedisAdapter {
	return &RedisAdapter{client: client, limit: limit, window: window}
}

func (r *RedisAdapter) ClaimInteraction(ctx context.Context, interactionID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, interactionKeyPrefix+interactionID, 1, interactionKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) AllowCommand(ctx context.Context, userID string) (bool, error) {
	key := commandKeyPrefix + userID

	result, err := allowCommandScript.Run(ctx, r.client, []string{key}, r.limit, r.window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
