package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// INCR と PEXPIRE を1スクリプトで実行し、同一キーの更新を Redis 側で直列化する。
var redisAllowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter は Redis に固定ウィンドウのカウンタを保存します。
// 複数プロセスで同じ予算を共有したい場合に使います。
type RedisLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(rdb *redis.Client, now func() time.Time) (*RedisLimiter, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{rdb: rdb, now: now}, nil
}

// NewRedisLimiterFromURL は redis:// 形式のURLからクライアントを作成します。
func NewRedisLimiterFromURL(rawURL string) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisLimiter(redis.NewClient(opt), nil)
}

// Allow はキーのカウンタを Redis 上で1つ進め、limit 以内なら許可します。
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit Limit) (Decision, error) {
	if limit.Unlimited() {
		return Decision{Allowed: true, Limit: limit, Remaining: -1}, nil
	}
	windowMillis := limit.Window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1
	}

	result, err := redisAllowScript.Run(ctx, r.rdb, []string{redisKey(key)}, windowMillis).Result()
	if err != nil {
		return Decision{}, err
	}
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return Decision{}, errors.New("unexpected redis rate limit response")
	}
	current, ok := values[0].(int64)
	if !ok {
		return Decision{}, errors.New("invalid redis counter response")
	}
	ttlMillis, _ := values[1].(int64)

	var retryAfter time.Duration
	if ttlMillis > 0 {
		retryAfter = time.Duration(ttlMillis) * time.Millisecond
	}
	return Decision{
		Allowed:    current <= int64(limit.Requests),
		Limit:      limit,
		Remaining:  remaining(limit, int(current)),
		ResetAt:    r.now().Add(retryAfter),
		RetryAfter: retryAfter,
	}, nil
}

// Close は Redis クライアントを閉じます。
func (r *RedisLimiter) Close() error {
	return r.rdb.Close()
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}
