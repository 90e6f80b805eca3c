package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/socialauth/internal/auth"
	"github.com/hitoshi/socialauth/internal/metrics"
	"github.com/hitoshi/socialauth/internal/middleware"
	"github.com/hitoshi/socialauth/internal/model"
)

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error {
	return m.err
}

// validAuthService は"Bearer valid"のみを受け付けるモック。
func validAuthService() *mockAuthService {
	return &mockAuthService{
		authenticateFn: func(_ context.Context, signedToken string) (*model.SessionWithUser, error) {
			if signedToken != "valid" {
				return nil, auth.ErrInvalidToken
			}
			return &model.SessionWithUser{
				Session: model.Session{ID: "sess-1", UserID: "user-1"},
				User:    model.User{ID: "user-1", Email: "a@example.com"},
			}, nil
		},
	}
}

func newTestRouterDeps() *RouterDeps {
	return &RouterDeps{
		AuthService:    validAuthService(),
		UserService:    &mockUserService{},
		AcceptedOrigin: func(origin string) bool { return origin == "http://localhost:3000" },
	}
}

func TestNewRouter_Routes(t *testing.T) {
	router := NewRouter(newTestRouterDeps())

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		token      string
		wantStatus int
	}{
		{"ヘルスチェック", http.MethodGet, "/health", "", "", http.StatusOK},
		{"OpenAPI JSON", http.MethodGet, "/docs/openapi.json", "", "", http.StatusOK},
		{"OpenAPI YAML", http.MethodGet, "/docs/openapi.yaml", "", "", http.StatusOK},
		{"ログイン開始", http.MethodPost, "/api/auth/sign-in/social", `{"provider":"github","callbackURL":"/"}`, "", http.StatusOK},
		{"get-sessionはトークンなしで401", http.MethodGet, "/api/auth/get-session", "", "", http.StatusUnauthorized},
		{"get-session無効トークンは200", http.MethodGet, "/api/auth/get-session", "", "invalid", http.StatusOK},
		{"sign-outは認証必須", http.MethodPost, "/api/auth/sign-out", "", "", http.StatusUnauthorized},
		{"sign-out無効トークン", http.MethodPost, "/api/auth/sign-out", "", "invalid", http.StatusUnauthorized},
		{"sign-out成功", http.MethodPost, "/api/auth/sign-out", "", "valid", http.StatusOK},
		{"meは認証必須", http.MethodGet, "/api/users/me", "", "", http.StatusUnauthorized},
		{"me成功", http.MethodGet, "/api/users/me", "", "valid", http.StatusOK},
		{"sessions成功", http.MethodGet, "/api/users/me/sessions", "", "valid", http.StatusOK},
		{"未定義ルート", http.MethodGet, "/api/unknown", "", "", http.StatusNotFound},
		{"メソッド不一致", http.MethodGet, "/api/auth/sign-in/social", "", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d (body: %s)", tt.method, tt.path, rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestNewRouter_AppliesCommonMiddleware(t *testing.T) {
	router := NewRouter(newTestRouterDeps())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:3000")
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
}

func TestNewRouter_PreflightFromUnknownOrigin(t *testing.T) {
	router := NewRouter(newTestRouterDeps())

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/sign-in/social", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestNewRouter_RateLimitsAuthFlowOnly(t *testing.T) {
	deps := newTestRouterDeps()
	deps.RateLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: 0.001, Burst: 1})
	t.Cleanup(deps.RateLimiter.Stop)
	router := NewRouter(deps)

	send := func(method, path, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.RemoteAddr = "192.0.2.1:1234"
		req.Header.Set("Authorization", "Bearer valid")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	body := `{"provider":"github","callbackURL":"/"}`
	if got := send(http.MethodPost, "/api/auth/sign-in/social", body); got != http.StatusOK {
		t.Fatalf("1st sign-in status = %d, want %d", got, http.StatusOK)
	}
	if got := send(http.MethodPost, "/api/auth/sign-in/social", body); got != http.StatusTooManyRequests {
		t.Errorf("2nd sign-in status = %d, want %d", got, http.StatusTooManyRequests)
	}
	// コールバックも同じリミッターを共有する
	if got := send(http.MethodGet, "/api/auth/callback/github?code=c&state=s", ""); got != http.StatusTooManyRequests {
		t.Errorf("callback status = %d, want %d", got, http.StatusTooManyRequests)
	}
	// 認証済みルートはレート制限の対象外
	if got := send(http.MethodGet, "/api/users/me", ""); got != http.StatusOK {
		t.Errorf("/api/users/me status = %d, want %d", got, http.StatusOK)
	}
}

func TestNewRouter_RateLimitIgnoresForwardedHeaders(t *testing.T) {
	deps := newTestRouterDeps()
	deps.RateLimiter = middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(2))
	t.Cleanup(deps.RateLimiter.Stop)
	router := NewRouter(deps)

	// 同じ接続元からX-Forwarded-Forを変えて送っても同じバケットで制限される
	limited := 0
	for i := range 20 {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-in/social",
			strings.NewReader(`{"provider":"github","callbackURL":"/"}`))
		req.RemoteAddr = "203.0.113.9:4321"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i))
		req.Header.Set("True-Client-IP", fmt.Sprintf("10.0.2.%d", i))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	if limited != 18 {
		t.Errorf("limited = %d, want 18", limited)
	}
	if got := deps.RateLimiter.LimiterCount(); got != 1 {
		t.Errorf("LimiterCount() = %d, want 1", got)
	}
}

func TestNewRouter_HealthCheckFailure(t *testing.T) {
	deps := newTestRouterDeps()
	deps.HealthChecker = &mockHealthChecker{err: errors.New("connection refused")}
	router := NewRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	deps := newTestRouterDeps()
	deps.Metrics = metrics.NewCollector(reg)
	deps.MetricsHandler = metrics.Handler(reg)
	router := NewRouter(deps)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Errorf("metrics output does not contain http_requests_total:\n%s", rec.Body.String())
	}
}

func TestNewRouter_MetricsDisabled(t *testing.T) {
	router := NewRouter(newTestRouterDeps())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
