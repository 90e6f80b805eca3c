package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/socialauth/internal/model"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

type mockSessionRepo struct {
	listActiveByUserIDFn func(ctx context.Context, userID string, now time.Time) ([]*model.Session, error)
}

func (m *mockSessionRepo) ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*model.Session, error) {
	if m.listActiveByUserIDFn != nil {
		return m.listActiveByUserIDFn(ctx, userID, now)
	}
	return nil, nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- テスト ---

func TestService_GetProfile(t *testing.T) {
	svc := NewService(&mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "a@b.com", Name: "Alice"}, nil
		},
	}, &mockSessionRepo{})

	user, err := svc.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetProfile error = %v", err)
	}
	if user.ID != "user-1" || user.Email != "a@b.com" {
		t.Errorf("user = %+v", user)
	}
}

// TestService_GetProfile_NotFound はユーザーが存在しない場合にUSER_NOT_FOUNDを返すことを検証する。
func TestService_GetProfile_NotFound(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockSessionRepo{})

	_, err := svc.GetProfile(context.Background(), "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeUserNotFound)
	}
}

func TestService_GetProfile_RepoError(t *testing.T) {
	dbErr := errors.New("connection refused")
	svc := NewService(&mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, dbErr
		},
	}, &mockSessionRepo{})

	_, err := svc.GetProfile(context.Background(), "user-1")
	if !errors.Is(err, dbErr) {
		t.Errorf("error = %v, want wrapped %v", err, dbErr)
	}
}

// TestService_ListSessions_MarksCurrent はリクエスト元のセッションにだけCurrentが立つことを検証する。
func TestService_ListSessions_MarksCurrent(t *testing.T) {
	var gotNow time.Time
	svc := NewService(&mockUserRepo{}, &mockSessionRepo{
		listActiveByUserIDFn: func(ctx context.Context, userID string, now time.Time) ([]*model.Session, error) {
			gotNow = now
			return []*model.Session{
				{ID: "s-2", Token: "secret-2", UserID: userID, ExpiresAt: now.Add(2 * time.Hour), CreatedAt: now.Add(-time.Hour)},
				{ID: "s-1", Token: "secret-1", UserID: userID, ExpiresAt: now.Add(time.Hour), CreatedAt: now.Add(-2 * time.Hour)},
			}, nil
		},
	})
	svc.SetClock(func() time.Time { return testNow })

	got, err := svc.ListSessions(context.Background(), "user-1", "s-1")
	if err != nil {
		t.Fatalf("ListSessions error = %v", err)
	}
	if !gotNow.Equal(testNow) {
		t.Errorf("now = %v, want %v", gotNow, testNow)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "s-2" || got[0].Current {
		t.Errorf("got[0] = %+v, want s-2 not current", got[0])
	}
	if got[1].ID != "s-1" || !got[1].Current {
		t.Errorf("got[1] = %+v, want s-1 current", got[1])
	}
}

func TestService_ListSessions_Empty(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockSessionRepo{})

	got, err := svc.ListSessions(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("ListSessions error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got = %v, want empty non-nil slice", got)
	}
}
