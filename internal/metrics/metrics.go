// Package metrics は認証とレート制限の Prometheus メトリクスを提供します。
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeInactive           = "inactive"
	OutcomeError              = "error"
)

// レート制限判定のラベル値
const (
	ResultAllowed     = "allowed"
	ResultRejected    = "rejected"
	ResultUnavailable = "unavailable"
)

// AuthLogins はトランスポート別のログイン試行数です。
var AuthLogins = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pyfaststack_auth_logins_total",
		Help: "Total number of login attempts by transport and outcome",
	},
	[]string{"transport", "outcome"},
)

// TokenRejections は検証に失敗したトークン数です。
var TokenRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pyfaststack_auth_token_rejections_total",
		Help: "Total number of rejected credentials by transport and stage",
	},
	[]string{"transport", "stage"},
)

// RateLimitDecisions はスコープ別のレート制限判定数です。
var RateLimitDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pyfaststack_ratelimit_decisions_total",
		Help: "Total number of rate limit decisions by scope and result",
	},
	[]string{"scope", "result"},
)

// Register はメトリクスを登録します。起動時に一度だけ呼び出してください。
func Register(reg prometheus.Registerer) {
	reg.MustRegister(AuthLogins)
	reg.MustRegister(TokenRejections)
	reg.MustRegister(RateLimitDecisions)
}

// RecordLogin はログイン試行を記録します。
func RecordLogin(transport, outcome string) {
	AuthLogins.WithLabelValues(transport, outcome).Inc()
}

// RecordTokenRejection は資格情報の拒否を記録します。
func RecordTokenRejection(transport, stage string) {
	TokenRejections.WithLabelValues(transport, stage).Inc()
}

// RecordRateLimit はレート制限の判定を記録します。
func RecordRateLimit(scope, result string) {
	RateLimitDecisions.WithLabelValues(scope, result).Inc()
}

// Handler は /metrics のハンドラーを返します。
func Handler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
