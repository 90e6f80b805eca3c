// Package user はログイン済みユーザー向けのドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/socialauth/internal/model"
)

// UserFinder はユーザー取得のインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SessionLister は有効なセッション一覧取得のインターフェース。
type SessionLister interface {
	ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*model.Session, error)
}

// SessionSummary はセッション一覧の1件分。Tokenは含めない。
type SessionSummary struct {
	ID        string
	ExpiresAt time.Time
	CreatedAt time.Time
	Current   bool // リクエスト元のセッションかどうか
}

// Service はユーザー情報のサービス層。
type Service struct {
	userRepo    UserFinder
	sessionRepo SessionLister
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo UserFinder, sessionRepo SessionLister) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		now:         time.Now,
	}
}

// SetClock はテスト用に現在時刻の取得関数を差し替える。
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// GetProfile はユーザーのプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// ListSessions はユーザーの有効なセッションを新しい順に返す。
// currentSessionIDに一致するセッションにはCurrentを立てる。
func (s *Service) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionSummary, error) {
	sessions, err := s.sessionRepo.ListActiveByUserID(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("セッション一覧の取得に失敗しました: %w", err)
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, SessionSummary{
			ID:        sess.ID,
			ExpiresAt: sess.ExpiresAt,
			CreatedAt: sess.CreatedAt,
			Current:   sess.ID == currentSessionID,
		})
	}
	return summaries, nil
}
