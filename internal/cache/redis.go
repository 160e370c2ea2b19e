package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/onlyif/messaging/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	messagesChannel = "messages"
	presenceTTL     = 5 * time.Minute
)

type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(ctx context.Context, addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Presence

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

// SetUserOnline marks a user online until the key expires
func (r *RedisClient) SetUserOnline(ctx context.Context, userID string) error {
	return r.client.Set(ctx, presenceKey(userID), time.Now().UTC().Format(time.RFC3339), presenceTTL).Err()
}

func (r *RedisClient) SetUserOffline(ctx context.Context, userID string) error {
	return r.client.Del(ctx, presenceKey(userID)).Err()
}

func (r *RedisClient) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Pub/Sub

// Publish fans an event out to every instance subscribed to the messages channel
func (r *RedisClient) Publish(ctx context.Context, event models.WSMessage) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return r.client.Publish(ctx, messagesChannel, data).Err()
}

// SubscribeToMessages subscribes to the messages channel
func (r *RedisClient) SubscribeToMessages(ctx context.Context) *redis.PubSub {
	return r.client.Subscribe(ctx, messagesChannel)
}

// Ping reports whether Redis answers
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func rateLimitKey(action, subject string) string {
	return fmt.Sprintf("rl:%s:%s", action, subject)
}

// AllowAction implements a Redis-backed token-bucket limiter per key (subject+action).
// Returns true if the action is allowed, false if rate-limited.
func (r *RedisClient) AllowAction(ctx context.Context, subject, action string, rate, burst int) (bool, error) {
	// tokens and last refill time live in one hash per key
	script := `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local vals = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(vals[1])
local last = tonumber(vals[2])
if tokens == nil then tokens = burst end
if last == nil then last = now end
local delta = math.max(0, now - last)
local new_tokens = math.min(burst, tokens + (delta * rate / 1000))
local allowed = 0
if new_tokens >= 1 then
	new_tokens = new_tokens - 1
	allowed = 1
end
redis.call('HSET', key, 'tokens', new_tokens, 'last', now)
redis.call('PEXPIRE', key, 60000)
return allowed
`

	now := time.Now().UnixMilli()
	res, err := r.client.Eval(ctx, script, []string{rateLimitKey(action, subject)}, rate, burst, now).Result()
	if err != nil {
		return false, err
	}
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	default:
		return false, fmt.Errorf("unexpected result from rate limiter: %T %v", res, res)
	}
}
