package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/georgekhananaev/py-fast-stack/internal/metrics"
)

// TestIDHeader はテスト・ベンチマーク時にクライアント識別子を差し替えるヘッダーです。
const TestIDHeader = "X-Test-ID"

// KeyFunc はリクエストからクライアント識別子を取り出します。
type KeyFunc func(c *gin.Context) string

// ClientIPKey はクライアントのネットワーク上の識別子（IP）を返します。本番の既定値です。
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// TestIdentityKey は X-Test-ID ヘッダーがあればそれを識別子に使います。
// 明示的に有効化した場合のみ使用してください。
func TestIdentityKey(c *gin.Context) string {
	if id := c.GetHeader(TestIDHeader); id != "" {
		return "test_" + id
	}
	return ClientIPKey(c)
}

// KeyFuncFor は設定に応じた KeyFunc を返します。
func KeyFuncFor(trustTestID bool) KeyFunc {
	if trustTestID {
		return TestIdentityKey
	}
	return ClientIPKey
}

// Rule は1つのエンドポイント区分に適用する制限です。
type Rule struct {
	Scope string
	Limit Limit
}

// Guard は Limiter をHTTPに接続します。
type Guard struct {
	limiter Limiter
	keyFunc KeyFunc
	logger  *slog.Logger
}

// NewGuard は Guard を作成します。keyFunc が nil の場合は ClientIPKey を使います。
func NewGuard(limiter Limiter, keyFunc KeyFunc, logger *slog.Logger) *Guard {
	if keyFunc == nil {
		keyFunc = ClientIPKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{limiter: limiter, keyFunc: keyFunc, logger: logger}
}

// Middleware は rule を適用するミドルウェアを返します。
// 制限は明示的にこのミドルウェアを付けたルートにのみ適用されます。
func (g *Guard) Middleware(rule Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if g == nil || g.limiter == nil || rule.Limit.Unlimited() {
			c.Next()
			return
		}

		key := rule.Scope + ":" + g.keyFunc(c)
		decision, err := g.limiter.Allow(c.Request.Context(), key, rule.Limit)
		if err != nil {
			// 判定できない場合は通さずに呼び出し元へ返す（再試行しない）
			metrics.RecordRateLimit(rule.Scope, metrics.ResultUnavailable)
			g.logger.Error("rate limiter unavailable", "scope", rule.Scope, "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"code":    "RATE_LIMIT_UNAVAILABLE",
				"message": "rate limiter unavailable",
			})
			return
		}

		writeHeaders(c, decision)
		if limitErr := decision.Err(); limitErr != nil {
			metrics.RecordRateLimit(rule.Scope, metrics.ResultRejected)
			g.logger.Warn("rate limit exceeded", "scope", rule.Scope, "client", c.ClientIP(), "limit", rule.Limit.String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMITED",
				"message": limitErr.Error(),
			})
			return
		}

		metrics.RecordRateLimit(rule.Scope, metrics.ResultAllowed)
		c.Next()
	}
}

func writeHeaders(c *gin.Context, decision Decision) {
	c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit.Requests))
	c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if decision.ResetAt.IsZero() {
		return
	}
	c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	if !decision.Allowed {
		c.Header("Retry-After", strconv.FormatInt(retryAfterSeconds(decision.RetryAfter), 10))
	}
}

// retryAfterSeconds は残り時間を秒単位に切り上げます。0.1秒でも残っていれば1を返します。
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
