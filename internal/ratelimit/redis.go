package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// takeScript mirrors Apply on the redis server so that concurrent callers from
// different replicas observe a single counter per window.
var takeScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local data = redis.call('HMGET', KEYS[1], 'count', 'reset')
local count = tonumber(data[1])
local reset = tonumber(data[2])

if count == nil or reset == nil or reset <= now then
	reset = now + window
	redis.call('HSET', KEYS[1], 'count', 1, 'reset', reset)
	redis.call('PEXPIRE', KEYS[1], window)
	return {1, limit - 1, reset}
end

if count >= limit then
	return {0, 0, reset}
end

count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, limit - count, reset}
`)

// RedisBackend keeps windows in redis. Keys expire with their window, so it
// never needs a sweep.
type RedisBackend struct {
	client redis.UniversalClient
}

func NewRedisBackend(ctx context.Context, redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}

	slog.Info("connected to redis", "addr", opts.Addr)
	return NewRedisBackendFromClient(client), nil
}

// NewRedisBackendFromClient uses an existing client, for example a cluster or
// sentinel client. Close closes the client.
func NewRedisBackendFromClient(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Take(ctx context.Context, identifier string, now time.Time, window time.Duration, limit int) (Result, error) {
	values, err := takeScript.Run(ctx, b.client, []string{redisKeyPrefix + identifier}, now.UnixMilli(), window.Milliseconds(), limit).Int64Slice()
	if err != nil {
		slog.Error("error running rate limit script", "identifier", identifier, "error", err)
		return Result{}, fmt.Errorf("error updating rate limit entry: %w", err)
	}
	if len(values) != 3 {
		return Result{}, fmt.Errorf("unexpected rate limit script result: %v", values)
	}

	return Result{
		Success:   values[0] == 1,
		Remaining: int(values[1]),
		Reset:     time.UnixMilli(values[2]),
	}, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
