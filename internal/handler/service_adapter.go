package handler

import (
	"context"

	"github.com/hitoshi/socialauth/internal/auth"
	"github.com/hitoshi/socialauth/internal/user"
)

// UserServiceAdapter は user.Service を UserServiceInterface に適合させるアダプタ。
type UserServiceAdapter struct {
	svc *user.Service
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(svc *user.Service) *UserServiceAdapter {
	return &UserServiceAdapter{svc: svc}
}

// GetProfile はユーザーのプロフィールをhandlerレスポンス型で返す。
func (a *UserServiceAdapter) GetProfile(ctx context.Context, userID string) (*userResponse, error) {
	u, err := a.svc.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		EmailVerified: u.EmailVerified,
		Image:         optionalString(u.Image),
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}, nil
}

// ListSessions はセッション一覧をhandlerレスポンス型で返す。
func (a *UserServiceAdapter) ListSessions(ctx context.Context, userID, currentSessionID string) ([]sessionSummaryResponse, error) {
	summaries, err := a.svc.ListSessions(ctx, userID, currentSessionID)
	if err != nil {
		return nil, err
	}

	results := make([]sessionSummaryResponse, len(summaries))
	for i, s := range summaries {
		results[i] = sessionSummaryResponse{
			ID:        s.ID,
			ExpiresAt: s.ExpiresAt,
			CreatedAt: s.CreatedAt,
			Current:   s.Current,
		}
	}
	return results, nil
}

// --- compile-time interface checks ---

var _ UserServiceInterface = (*UserServiceAdapter)(nil)
var _ AuthServiceInterface = (*auth.Service)(nil)
