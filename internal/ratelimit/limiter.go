package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrCapacityExceeded はキー数の上限に達し新しいバケットを作れない場合に返ります。
var ErrCapacityExceeded = errors.New("rate limiter capacity exceeded")

// Decision は Allow の判定結果です。
type Decision struct {
	Allowed   bool
	Limit     Limit
	Remaining int
	ResetAt   time.Time
	// RetryAfter は判定時点からウィンドウ終了までの残り時間です。
	RetryAfter time.Duration
}

// Limiter はキーごとのリクエスト数を数えて許可/拒否を判定します。
// 同一キーへの同時呼び出しでも limit を超えて許可してはいけません。
type Limiter interface {
	Allow(ctx context.Context, key string, limit Limit) (Decision, error)
}

// LimitError はレート制限超過を表すエラーです。
type LimitError struct {
	Limit   Limit
	ResetAt time.Time
}

func (e *LimitError) Error() string {
	return "Rate limit exceeded: " + e.Limit.String()
}

// Is により errors.Is(err, ErrRateLimited) で判定できます。
func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ErrRateLimited はレート制限超過の判定用センチネルです。
var ErrRateLimited = errors.New("rate limited")

// Err は拒否された判定を LimitError に変換します。許可されていれば nil を返します。
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitError{Limit: d.Limit, ResetAt: d.ResetAt}
}

func remaining(limit Limit, count int) int {
	if count >= limit.Requests {
		return 0
	}
	return limit.Requests - count
}
