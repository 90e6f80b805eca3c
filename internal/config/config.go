// Package config はアプリケーション全体の設定を提供する。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Verificationの保存先
const (
	VerificationStoreDatabase = "database"
	VerificationStoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string `env:"PORT" envDefault:"8000"`
	Host       string `env:"HOST" envDefault:"localhost"`
	Protocol   string `env:"PROTOCOL" envDefault:"http"`
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:8000"`
	AppEnv     string `env:"APP_ENV" envDefault:"development"`

	// CORS / callbackURLの許可オリジン
	AcceptedOrigins []string `env:"ACCEPTED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:3001"`

	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// OAuth
	GitHubClientID     string        `env:"GITHUB_CLIENT_ID,required,notEmpty"`
	GitHubClientSecret string        `env:"GITHUB_CLIENT_SECRET,required,notEmpty"`
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET,required,notEmpty"`
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// 署名付きセッショントークン
	JWTSecret    string        `env:"JWT_SECRET,required,notEmpty"`
	JWTExpiresIn time.Duration `env:"JWT_EXPIRES_IN" envDefault:"7d"`

	// Session / Verification
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"7d"`
	VerificationTTL   time.Duration `env:"VERIFICATION_TTL" envDefault:"60s"`
	VerificationStore string        `env:"VERIFICATION_STORE" envDefault:"database"`
	RedisURL          string        `env:"REDIS_URL"`

	// Cookie
	CookieName   string `env:"COOKIE_NAME" envDefault:"token"`
	CookieDomain string `env:"COOKIE_DOMAIN"`
	CookieSecure bool

	// Rate Limit（req/min/IP）
	RateLimitAuth int `env:"RATE_LIMIT_AUTH" envDefault:"30"`

	// Worker
	CleanupSchedule string `env:"CLEANUP_SCHEDULE" envDefault:"@every 1h"`
	// 空の場合、workerは/metricsを公開しない
	WorkerMetricsAddr string `env:"WORKER_METRICS_ADDR"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// IsProduction は本番環境で動作しているかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	err := env.ParseWithOptions(cfg, env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(time.Duration(0)): func(v string) (interface{}, error) {
				return ParseLifetime(v)
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("invalid environment configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CookieSecure = cfg.IsProduction() || strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.VerificationStore {
	case VerificationStoreDatabase:
	case VerificationStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when VERIFICATION_STORE=%s", VerificationStoreRedis)
		}
	default:
		return fmt.Errorf("unsupported VERIFICATION_STORE: %q", c.VerificationStore)
	}
	if c.SessionTTL <= 0 || c.VerificationTTL <= 0 || c.JWTExpiresIn <= 0 {
		return fmt.Errorf("SESSION_TTL, VERIFICATION_TTL and JWT_EXPIRES_IN must be positive")
	}
	if c.RateLimitAuth <= 0 {
		return fmt.Errorf("RATE_LIMIT_AUTH must be positive, got %d", c.RateLimitAuth)
	}
	return nil
}

// ParseLifetime はtime.ParseDurationの書式に加えて日数指定（例: "7d"）を受け付ける。
func ParseLifetime(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q: %w", v, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
