package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/georgekhananaev/py-fast-stack/internal/auth"
	"github.com/georgekhananaev/py-fast-stack/internal/config"
	"github.com/georgekhananaev/py-fast-stack/internal/metrics"
	"github.com/georgekhananaev/py-fast-stack/internal/ratelimit"
	"github.com/georgekhananaev/py-fast-stack/internal/users"
)

// application は起動時に組み立てる依存関係一式です。
type application struct {
	router  *gin.Engine
	closers []func() error
}

// Close は保持しているリソースを解放します。
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newApp は設定からデータベース・認証・レート制限を組み立ててルーターを返します。
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{}

	db, err := users.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	app.closers = append(app.closers, sqlDB.Close)

	store, err := users.NewGormStore(db)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	hasher := auth.NewHasher(cfg.BcryptCost, cfg.PasswordHashWorkers)
	root, err := users.EnsureRoot(ctx, store, hasher, cfg.RootEmail, cfg.RootPassword)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if root.Created {
		if root.Password != "" {
			// 生成したパスワードはこのときにしか確認できない
			logger.Warn("created root user with generated password", "username", root.Username, "password", root.Password)
		} else {
			logger.Info("created root user", "username", root.Username)
		}
	}

	codec, err := auth.NewTokenCodec(
		[]byte(cfg.SecretKey),
		cfg.Algorithm,
		time.Duration(cfg.AccessTokenExpireMinutes)*time.Minute,
		nil,
	)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	resolver, err := auth.NewResolver(codec, store, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	service, err := auth.NewService(store, hasher, codec, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	limiter, closeLimiter, err := newLimiter(cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if closeLimiter != nil {
		app.closers = append(app.closers, closeLimiter)
	}
	rules, err := newRules(cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	guard := ratelimit.NewGuard(limiter, ratelimit.KeyFuncFor(cfg.RateLimitTrustTestID), logger)
	if cfg.RateLimitTrustTestID {
		logger.Warn("rate limiter trusts the X-Test-ID header; do not use this outside tests")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(registry)

	router, err := setupRoutes(routeDeps{
		cfg:      cfg,
		logger:   logger,
		service:  service,
		resolver: resolver,
		guard:    guard,
		rules:    rules,
		gatherer: registry,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.router = router
	return app, nil
}

// newLimiter は設定に応じたレート制限の保存先を返します。
func newLimiter(cfg *config.Config) (ratelimit.Limiter, func() error, error) {
	switch cfg.RateLimitBackend {
	case "redis":
		limiter, err := ratelimit.NewRedisLimiterFromURL(cfg.RateLimitRedisURL)
		if err != nil {
			return nil, nil, err
		}
		return limiter, limiter.Close, nil
	default:
		return ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{}), nil, nil
	}
}

// rateRules はエンドポイント区分ごとの制限です。
type rateRules struct {
	login          ratelimit.Rule
	register       ratelimit.Rule
	passwordChange ratelimit.Rule
	api            ratelimit.Rule
}

func newRules(cfg *config.Config) (rateRules, error) {
	parse := func(scope, expr string) (ratelimit.Rule, error) {
		limit, err := ratelimit.ParseLimit(expr)
		if err != nil {
			return ratelimit.Rule{}, fmt.Errorf("invalid rate limit for %s: %w", scope, err)
		}
		return ratelimit.Rule{Scope: scope, Limit: limit}, nil
	}

	var rules rateRules
	var err error
	if rules.login, err = parse("login", cfg.RateLimitLogin); err != nil {
		return rateRules{}, err
	}
	if rules.register, err = parse("register", cfg.RateLimitRegister); err != nil {
		return rateRules{}, err
	}
	if rules.passwordChange, err = parse("password_change", cfg.RateLimitPasswordChange); err != nil {
		return rateRules{}, err
	}
	if rules.api, err = parse("api", cfg.RateLimitAPI); err != nil {
		return rateRules{}, err
	}
	return rules, nil
}
