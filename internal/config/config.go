// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// placeholderSecret は旧テンプレートに含まれていた既知の値です。どのモードでも受け付けません。
const placeholderSecret = "your-secret-key-here-change-in-production"

// Config はアプリケーションの設定を保持する構造体です。
// Load の後は読み取り専用として扱い、各コンポーネントのコンストラクタへ渡します。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// X-Forwarded-For を信頼するリバースプロキシ（空ならどのプロキシも信頼しない）
	TrustedProxies []string

	// データベース設定
	DatabaseURL string // SQLite の DSN

	// トークン設定
	SecretKey                string // トークン署名用の秘密鍵（未指定なら起動時に生成）
	SecretKeyGenerated       bool   // SecretKey を自動生成したかどうか
	Algorithm                string // 署名アルゴリズム (HS256, HS384, HS512)
	AccessTokenExpireMinutes int    // アクセストークンの有効期限（分）

	// パスワードハッシュ設定
	BcryptCost          int // bcrypt のコスト
	PasswordHashWorkers int // 同時に実行するハッシュ計算の上限

	// フラッシュメッセージ用セッション
	SessionSecret string

	// レート制限設定
	RateLimitBackend        string // memory または redis
	RateLimitRedisURL       string // redis バックエンド利用時の接続URL
	RateLimitLogin          string // ログインの制限 (例: 5/minute)
	RateLimitRegister       string // 登録の制限
	RateLimitPasswordChange string // パスワード変更の制限
	RateLimitAPI            string // 一般APIの制限（空なら無制限）
	RateLimitTrustTestID    bool   // X-Test-ID ヘッダーを識別子として使うか（テスト専用）

	// 初期管理者
	RootEmail    string
	RootPassword string
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8000"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:8000"),
		TrustedProxies:     getEnvAsList("TRUSTED_PROXIES"),

		// データベース設定
		DatabaseURL: getEnv("DATABASE_URL", "pyfaststack.db"),

		// トークン設定
		SecretKey:                getEnv("SECRET_KEY", ""),
		Algorithm:                strings.ToUpper(getEnv("ALGORITHM", "HS256")),
		AccessTokenExpireMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30),

		// パスワードハッシュ設定
		BcryptCost:          getEnvAsInt("BCRYPT_COST", 12),
		PasswordHashWorkers: getEnvAsInt("PASSWORD_HASH_WORKERS", runtime.GOMAXPROCS(0)),

		SessionSecret: getEnv("SESSION_SECRET", ""),

		// レート制限設定
		RateLimitBackend:        strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),
		RateLimitRedisURL:       getEnv("RATE_LIMIT_REDIS_URL", "redis://127.0.0.1:6379/0"),
		RateLimitLogin:          getEnv("RATE_LIMIT_LOGIN", "5/minute"),
		RateLimitRegister:       getEnv("RATE_LIMIT_REGISTER", "3/minute"),
		RateLimitPasswordChange: getEnv("RATE_LIMIT_PASSWORD_CHANGE", "3/minute"),
		RateLimitAPI:            getEnv("RATE_LIMIT_API", ""),
		RateLimitTrustTestID:    getEnvAsBool("RATE_LIMIT_TRUST_TEST_ID", false),

		// 初期管理者
		RootEmail:    getEnv("ROOT_EMAIL", "root@example.com"),
		RootPassword: getEnv("ROOT_PASSWORD", ""),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := config.fillSecrets(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.SecretKey == placeholderSecret {
		return fmt.Errorf("SECRET_KEY must not be the template placeholder")
	}
	switch c.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("ALGORITHM %q is not supported", c.Algorithm)
	}
	if c.AccessTokenExpireMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	if c.PasswordHashWorkers <= 0 {
		return fmt.Errorf("PASSWORD_HASH_WORKERS must be positive")
	}
	switch c.RateLimitBackend {
	case "memory":
	case "redis":
		if c.RateLimitRedisURL == "" {
			return fmt.Errorf("RATE_LIMIT_REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND %q is not supported", c.RateLimitBackend)
	}

	// 本番環境では秘密鍵の自動生成を許さない
	if c.GinMode == "release" {
		if c.SecretKey == "" {
			return fmt.Errorf("SECRET_KEY is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.RateLimitTrustTestID {
			return fmt.Errorf("RATE_LIMIT_TRUST_TEST_ID must be disabled in release mode")
		}
	}

	return nil
}

// fillSecrets は未指定の秘密鍵を crypto/rand で生成します。
func (c *Config) fillSecrets() error {
	if c.SecretKey == "" {
		secret, err := randomHex(32)
		if err != nil {
			return fmt.Errorf("failed to generate SECRET_KEY: %w", err)
		}
		c.SecretKey = secret
		c.SecretKeyGenerated = true
	}
	if c.SessionSecret == "" {
		secret, err := randomHex(32)
		if err != nil {
			return fmt.Errorf("failed to generate SESSION_SECRET: %w", err)
		}
		c.SessionSecret = secret
	}
	return nil
}

// IsRelease は本番モードかどうかを返します。
func (c *Config) IsRelease() bool {
	return c.GinMode == "release"
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数を空要素を除いて返します。未設定なら nil です。
func getEnvAsList(key string) []string {
	var values []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
