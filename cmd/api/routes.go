package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/georgekhananaev/py-fast-stack/internal/auth"
	"github.com/georgekhananaev/py-fast-stack/internal/config"
	"github.com/georgekhananaev/py-fast-stack/internal/metrics"
	"github.com/georgekhananaev/py-fast-stack/internal/ratelimit"
	"github.com/georgekhananaev/py-fast-stack/internal/web"
)

const (
	sessionCookieName = "pyfs_session"
	// フラッシュメッセージと CSRF トークンのみを保持する
	sessionMaxAge = 12 * 60 * 60
)

type routeDeps struct {
	cfg      *config.Config
	logger   *slog.Logger
	service  *auth.Service
	resolver *auth.Resolver
	guard    *ratelimit.Guard
	rules    rateRules
	gatherer prometheus.Gatherer
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "py-fast-stack",
	})
}

// setupRoutes は API・ブラウザ向けページ・運用系エンドポイントを配線します。
// レート制限は明示的にルールを付けたルートにのみ適用します。
func setupRoutes(d routeDeps) (*gin.Engine, error) {
	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// レート制限のキーは ClientIP なので、信頼するプロキシ以外の転送ヘッダーは無視する
	if err := router.SetTrustedProxies(d.cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(d.cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		Secure:   d.cfg.IsRelease(),
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(sessionCookieName, store))

	// CORSミドルウェアの設定（許可オリジンが空なら同一オリジンのみ）
	if origins := splitOrigins(d.cfg.CORSAllowedOrigins); len(origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-CSRF-Token",
		}
		corsConfig.ExposeHeaders = []string{"Retry-After", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset"}
		router.Use(cors.New(corsConfig))
	}

	// 運用系は制限なし
	router.GET("/health", handleHealth)
	router.GET("/metrics", metrics.Handler(d.gatherer))

	apiHandler := auth.NewHandler(d.service, d.logger)
	api := router.Group("/api/v1", d.guard.Middleware(d.rules.api))
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/login", d.guard.Middleware(d.rules.login), apiHandler.Login)
			authRoutes.POST("/register", d.guard.Middleware(d.rules.register), apiHandler.Register)
			authRoutes.GET("/me", d.resolver.RequireBearer(), auth.RequireActiveUser(), apiHandler.Me)
		}

		userRoutes := api.Group("/users", d.resolver.RequireBearer(), auth.RequireActiveUser())
		{
			userRoutes.GET("", auth.RequireSuperuserAPI(), apiHandler.ListUsers)
			userRoutes.GET("/:id", apiHandler.GetUser)
			userRoutes.PUT("/:id", auth.RequireSuperuserAPI(), apiHandler.UpdateUser)
		}
	}

	pages := web.NewHandler(d.service, d.resolver, d.logger, d.cfg.IsRelease())
	site := router.Group("", web.VerifyCSRF())
	{
		site.GET("/", pages.Home)
		site.GET("/login", pages.LoginPage)
		site.POST("/login", d.guard.Middleware(webRule(d.rules.login)), pages.Login)
		site.GET("/register", pages.RegisterPage)
		site.POST("/register", d.guard.Middleware(webRule(d.rules.register)), pages.Register)
		site.GET("/logout", pages.Logout)

		member := site.Group("", d.resolver.RequireWebUser())
		{
			member.GET("/dashboard", pages.Dashboard)
			member.GET("/profile", pages.Profile)
			member.POST("/profile/update", pages.UpdateProfile)
			member.POST("/profile/password", d.guard.Middleware(d.rules.passwordChange), pages.ChangePassword)
			member.GET("/admin/users", auth.RequireWebSuperuser(), pages.Users)
		}
	}

	return router, nil
}

// webRule はブラウザ向けルートに API とは別のカウンターを割り当てます。
func webRule(rule ratelimit.Rule) ratelimit.Rule {
	rule.Scope = "web_" + rule.Scope
	return rule
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
