package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/socialauth/internal/middleware"
	"github.com/hitoshi/socialauth/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*userResponse, error)
	// ListSessions はユーザーの有効なセッションを返す。currentSessionIDのセッションにcurrentを立てる。
	ListSessions(ctx context.Context, userID, currentSessionID string) ([]sessionSummaryResponse, error)
}

// userResponse はユーザープロフィールのレスポンス。
type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	EmailVerified bool      `json:"emailVerified"`
	Image         *string   `json:"image"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// sessionSummaryResponse はセッション一覧の1件分。
type sessionSummaryResponse struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	Current   bool      `json:"current"`
}

// UserHandler はログイン済みユーザー向けのHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// Me は現在のログインユーザー情報を返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.AuthFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Authentication required"))
		return
	}

	user, err := h.service.GetProfile(r.Context(), ac.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// ListSessions は現在のユーザーの有効なセッション一覧を返す。
// GET /api/users/me/sessions
func (h *UserHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.AuthFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError("Authentication required"))
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), ac.UserID, ac.SessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
