// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/socialauth/internal/auth"
	"github.com/hitoshi/socialauth/internal/model"
)

// SessionTokenHeader はAuthorizationヘッダーがない場合に参照する代替ヘッダー名。
const SessionTokenHeader = "session_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// authContextKey はリクエストコンテキストにAuthContextを格納するためのキー。
var authContextKey = contextKey("auth")

// AuthContext はセッションミドルウェアが注入する認証済みリクエストの情報。
type AuthContext struct {
	UserID       string
	SessionID    string
	SessionToken string
}

// Authenticator は署名付きトークンからセッションを解決する。
// auth.Serviceが実装する。
type Authenticator interface {
	Authenticate(ctx context.Context, signedToken string) (*model.SessionWithUser, error)
}

// BearerToken はAuthorizationヘッダー（なければsession_tokenヘッダー）から
// "Bearer <token>" 形式のトークンを取り出す。
// ヘッダーがない場合と形式が不正な場合はfalseを返す。
func BearerToken(r *http.Request) (string, bool) {
	value := r.Header.Get("Authorization")
	if value == "" {
		value = r.Header.Get(SessionTokenHeader)
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// NewSessionMiddleware はBearerトークンからセッションを解決し、
// 有効性を検証するミドルウェアを返す。
// 認証情報をAuthContextとしてリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. ヘッダーからトークンを取得
			token, ok := BearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Missing or malformed bearer token"))
				return
			}

			// 2. 署名・有効期限とセッションを検証
			sw, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrSessionNotFound) {
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Invalid or expired session"))
					return
				}
				// DB障害等はトークンの問題ではないため500を返す
				WriteError(w, r, fmt.Errorf("failed to authenticate session: %w", err))
				return
			}

			// 3. 認証情報をコンテキストに注入
			ac := &AuthContext{
				UserID:       sw.User.ID,
				SessionID:    sw.Session.ID,
				SessionToken: sw.Session.Token,
			}
			setLogUserID(r.Context(), ac.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), ac)))
		})
	}
}

// AuthFromContext はリクエストコンテキストからAuthContextを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey).(*AuthContext)
	if !ok || ac == nil || ac.UserID == "" {
		return nil, false
	}
	return ac, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	ac, ok := AuthFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return ac.UserID, nil
}

// ContextWithAuth はコンテキストにAuthContextを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAuth(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}
