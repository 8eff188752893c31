package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultMaxKeys = 100000

// MemoryConfig は MemoryLimiter の設定です。
type MemoryConfig struct {
	Now     func() time.Time
	MaxKeys int
}

type bucket struct {
	mu        sync.Mutex
	windowEnd time.Time
	count     int
	// dead は掃除で表から外されたことを示す。保持者は取り直す。
	dead bool
}

// MemoryLimiter はプロセス内の固定ウィンドウ方式のレート制限です。
// 表の参照は RWMutex、カウンタ更新はバケットごとの Mutex で直列化するため、
// 異なるキーへのリクエストは互いに待ちません。
type MemoryLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	now     func() time.Time
	maxKeys int
}

// NewMemoryLimiter は MemoryLimiter を作成します。
func NewMemoryLimiter(cfg MemoryConfig) *MemoryLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     cfg.Now,
		maxKeys: cfg.MaxKeys,
	}
}

// Allow はキーのカウンタを1つ進め、limit 以内なら許可します。
// ウィンドウが経過していればカウンタをリセットしてから数えます。
// 拒否されたリクエストもカウントに含めます（試行回数を数えるため）。
func (m *MemoryLimiter) Allow(ctx context.Context, key string, limit Limit) (Decision, error) {
	if limit.Unlimited() {
		return Decision{Allowed: true, Limit: limit, Remaining: -1}, nil
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	for {
		b, err := m.bucketFor(key)
		if err != nil {
			return Decision{}, err
		}

		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		now := m.now()
		if b.windowEnd.IsZero() || !now.Before(b.windowEnd) {
			b.windowEnd = now.Add(limit.Window)
			b.count = 0
		}
		b.count++
		decision := Decision{
			Allowed:    b.count <= limit.Requests,
			Limit:      limit,
			Remaining:  remaining(limit, b.count),
			ResetAt:    b.windowEnd,
			RetryAfter: b.windowEnd.Sub(now),
		}
		b.mu.Unlock()
		return decision, nil
	}
}

// Sweep はウィンドウが終了したバケットを表から取り除きます。
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now())
}

// Len は保持しているバケット数を返します。
func (m *MemoryLimiter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buckets)
}

func (m *MemoryLimiter) bucketFor(key string) (*bucket, error) {
	m.mu.RLock()
	b, ok := m.buckets[key]
	m.mu.RUnlock()
	if ok {
		return b, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[key]; ok {
		return b, nil
	}
	if len(m.buckets) >= m.maxKeys {
		m.sweepLocked(m.now())
	}
	if len(m.buckets) >= m.maxKeys {
		return nil, ErrCapacityExceeded
	}
	b = &bucket{}
	m.buckets[key] = b
	return b, nil
}

// sweepLocked は m.mu を保持した状態で呼び出します。
// ロック順序は常に m.mu → bucket.mu。
func (m *MemoryLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for key, b := range m.buckets {
		b.mu.Lock()
		if !b.windowEnd.IsZero() && !now.Before(b.windowEnd) {
			b.dead = true
			delete(m.buckets, key)
			removed++
		}
		b.mu.Unlock()
	}
	return removed
}
