package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/socialauth/internal/auth"
	"github.com/hitoshi/socialauth/internal/config"
	"github.com/hitoshi/socialauth/internal/database"
	"github.com/hitoshi/socialauth/internal/handler"
	"github.com/hitoshi/socialauth/internal/logger"
	"github.com/hitoshi/socialauth/internal/metrics"
	"github.com/hitoshi/socialauth/internal/middleware"
	"github.com/hitoshi/socialauth/internal/repository"
	"github.com/hitoshi/socialauth/internal/security"
	"github.com/hitoshi/socialauth/internal/user"
	"github.com/hitoshi/socialauth/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// components はserve/workerで共有する永続化層とメトリクス。
type components struct {
	db    *sql.DB
	redis *redis.Client // VERIFICATION_STORE=redisの場合のみ

	users         repository.UserRepository
	identities    repository.IdentityRepository
	sessions      repository.SessionRepository
	verifications repository.VerificationRepository

	registry *prometheus.Registry
	metrics  *metrics.Collector
}

// openComponents はDB（と必要ならRedis）に接続し、リポジトリを初期化する。
func openComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	db, _, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.WaitForReady(ctx, db, 5); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database connection established",
		slog.String("database_url", database.RedactURL(cfg.DatabaseURL)),
	)

	c := &components{
		db:         db,
		users:      repository.NewSQLUserRepo(db),
		identities: repository.NewSQLIdentityRepo(db),
		sessions:   repository.NewSQLSessionRepo(db),
		registry:   prometheus.NewRegistry(),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = metrics.NewCollector(c.registry)

	switch cfg.VerificationStore {
	case config.VerificationStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		c.redis = redis.NewClient(opts)
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.verifications = repository.NewRedisVerificationRepo(c.redis)
		slog.Info("redis connection established")
	default:
		c.verifications = repository.NewSQLVerificationRepo(db)
	}

	return c, nil
}

// Close はDBとRedisの接続を閉じる。
func (c *components) Close() error {
	var errs []error
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	errs = append(errs, c.db.Close())
	return errors.Join(errs...)
}

// newAuthService はGitHub/Googleプロバイダーを組み込んだ認証サービスを生成する。
// プロバイダー呼び出しはsafeurlで接続先を固定したクライアントを使う。
func newAuthService(cfg *config.Config, c *components) *auth.Service {
	providerClient := security.NewProviderClient(cfg.ProviderTimeout)

	github := auth.NewGitHubOAuthProvider(auth.GitHubOAuthConfig{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		HTTPClient:   providerClient,
	})
	google := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.BaseURL + "/api/auth/callback/google",
		HTTPClient:   providerClient,
	})

	return auth.NewService(auth.ServiceDeps{
		Providers:        []auth.OAuthProvider{github, google},
		UserRepo:         c.users,
		IdentityRepo:     c.identities,
		SessionRepo:      c.sessions,
		VerificationRepo: c.verifications,
		Callbacks:        security.NewCallbackURLValidator(cfg.BaseURL, cfg.AcceptedOrigins),
		Sanitizer:        security.NewProfileSanitizer(),
		Tokens:           auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiresIn),
		Metrics:          c.metrics,
	}, auth.ServiceConfig{
		VerificationTTL: cfg.VerificationTTL,
		SessionTTL:      cfg.SessionTTL,
	})
}

// newRouter は全依存関係をワイヤリングしたルーターを返す。
func newRouter(cfg *config.Config, c *components, rateLimiter *middleware.RateLimiter) http.Handler {
	authService := newAuthService(cfg, c)
	userService := user.NewService(c.users, c.sessions)
	callbacks := security.NewCallbackURLValidator(cfg.BaseURL, cfg.AcceptedOrigins)

	return handler.NewRouter(&handler.RouterDeps{
		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieName:   cfg.CookieName,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		UserService: handler.NewUserServiceAdapter(userService),

		AcceptedOrigin: callbacks.IsAllowedOrigin,
		RateLimiter:    rateLimiter,
		Logger:         slog.Default(),
		HSTS:           cfg.CookieSecure,

		Metrics:        c.metrics,
		MetricsHandler: metrics.Handler(c.registry),
		HealthChecker:  c.db,
	})
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	c, err := openComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newRouter(cfg, c, rateLimiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// serveUntilDone はserverを起動し、ctxのキャンセルで30秒以内にシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れのVerificationとセッションをCLEANUP_SCHEDULEに従って削除する。
// WORKER_METRICS_ADDRが設定されていれば/metricsも公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	c, err := openComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	job := cleanup.NewCleanupJob(c.verifications, c.sessions, c.metrics, slog.Default())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return job.Start(gctx, cfg.CleanupSchedule)
	})

	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(c.registry))
		server := &http.Server{
			Addr:              cfg.WorkerMetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			return serveUntilDone(gctx, server, "worker metrics server")
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", database.RedactURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
