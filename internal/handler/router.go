package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/socialauth/internal/metrics"
	"github.com/hitoshi/socialauth/internal/middleware"
	"github.com/hitoshi/socialauth/internal/openapi"
)

// HealthChecker はヘルスチェックで疎通確認する依存先（*sql.DB等）。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// ミドルウェア依存
	AcceptedOrigin func(origin string) bool
	RateLimiter    *middleware.RateLimiter
	Logger         *slog.Logger
	HSTS           bool

	// 任意。nilの場合は計測しない
	Metrics        *metrics.Collector
	MetricsHandler http.Handler

	// 任意。nilの場合は常に200を返す
	HealthChecker HealthChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS → Metrics
//
// ログイン開始とコールバックには接続元アドレス単位のレート制限を追加し、
// sign-outと/api/users/*はセッションミドルウェアの内側に配置する。
// X-Forwarded-For等のヘッダーはクライアントが偽装できるため、レート制限のキーには使わない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	acceptedOrigin := deps.AcceptedOrigin
	if acceptedOrigin == nil {
		acceptedOrigin = func(string) bool { return false }
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(acceptedOrigin))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.InstrumentHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Get("/docs/openapi.json", openapi.JSONHandler())
	r.Get("/docs/openapi.yaml", openapi.YAMLHandler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}
			r.Post("/sign-in/social", authHandler.SignInSocial)
			r.Get("/callback/{provider}", authHandler.Callback)
		})

		// トークンの検証はハンドラー内で行う（無効なトークンはnullを返すため）
		r.Get("/get-session", authHandler.GetSession)

		r.With(middleware.NewSessionMiddleware(deps.AuthService)).Post("/sign-out", authHandler.SignOut)
	})

	// --- 認証が必要なルート ---
	r.Route("/api/users", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.AuthService))

		r.Get("/me", userHandler.Me)
		r.Get("/me/sessions", userHandler.ListSessions)
	})

	return r
}

// healthHandler はDBの疎通を確認して結果を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
