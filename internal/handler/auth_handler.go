// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/socialauth/internal/auth"
	"github.com/hitoshi/socialauth/internal/middleware"
	"github.com/hitoshi/socialauth/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SocialLogin(ctx context.Context, provider, callbackURL string) (*auth.SocialLoginResult, error)
	HandleCallback(ctx context.Context, provider, code, state string) (*auth.CallbackResult, error)
	IssueSessionToken(session *model.Session) (string, time.Time, error)
	Authenticate(ctx context.Context, signedToken string) (*model.SessionWithUser, error)
	SignOut(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieName   string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はソーシャルログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	config   AuthHandlerConfig
	validate *validator.Validate
	now      func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	if config.CookieName == "" {
		config.CookieName = "token"
	}
	return &AuthHandler{
		service:  service,
		config:   config,
		validate: newValidator(),
		now:      time.Now,
	}
}

// socialSignInRequest はソーシャルログイン開始のリクエストボディ。
type socialSignInRequest struct {
	Provider    string `json:"provider" validate:"required"`
	CallbackURL string `json:"callbackURL" validate:"required"`
}

// SignInSocial はOAuthフローを開始し、プロバイダーの認可URLを返す。
// POST /api/auth/sign-in/social
func (h *AuthHandler) SignInSocial(w http.ResponseWriter, r *http.Request) {
	var req socialSignInRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.SocialLogin(r.Context(), req.Provider, req.CallbackURL)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Callback はOAuthコールバックを処理する。
// 成功時は署名付きトークンをCookieに設定し、ログイン開始時のcallbackURLへリダイレクトする。
// GET /api/auth/callback/{provider}?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	// プロバイダーがエラーを返してきた場合（ユーザーが同意を拒否した等）
	if providerErr := q.Get("error"); providerErr != "" && q.Get("code") == "" {
		slog.WarnContext(r.Context(), "oauth provider returned an error",
			slog.String("provider", provider),
			slog.String("error", providerErr),
		)
	}

	result, err := h.service.HandleCallback(r.Context(), provider, q.Get("code"), q.Get("state"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	signed, expiresAt, err := h.service.IssueSessionToken(result.Session)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, signed, expiresAt)
	http.Redirect(w, r, result.CallbackURL, http.StatusFound)
}

// sessionResponse はget-sessionのsession部分。
type sessionResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// sessionUserResponse はget-sessionのuser部分。
type sessionUserResponse struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  string  `json:"name"`
	Image *string `json:"image"`
}

type getSessionResponse struct {
	Session sessionResponse     `json:"session"`
	User    sessionUserResponse `json:"user"`
}

// GetSession は署名付きトークンに対応するセッションとユーザーを返す。
// ヘッダーがない・形式不正の場合は401、トークン無効やセッションがない場合はnullを返す。
// GET /api/auth/get-session
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized,
			model.NewUnauthorizedError("Missing or malformed bearer token"))
		return
	}

	sw, err := h.service.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrSessionNotFound) {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, getSessionResponse{
		Session: sessionResponse{
			ID:        sw.Session.ID,
			Token:     sw.Session.Token,
			ExpiresAt: sw.Session.ExpiresAt,
		},
		User: sessionUserResponse{
			ID:    sw.User.ID,
			Email: sw.User.Email,
			Name:  sw.User.Name,
			Image: optionalString(sw.User.Image),
		},
	})
}

// SignOut は現在のセッションを破棄し、Cookieをクリアする。
// セッションミドルウェアの内側に配置する。
// POST /api/auth/sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.AuthFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Authentication required"))
		return
	}

	if err := h.service.SignOut(r.Context(), ac.SessionID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// setSessionCookie はセッションCookie（HTTP Only, SameSite=Strict）を設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(h.now()).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		Expires:  expiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
