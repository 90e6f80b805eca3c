package auth

import (
	"context"
	"time"

	"github.com/hitoshi/socialauth/internal/model"
	"github.com/hitoshi/socialauth/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn        func(ctx context.Context, email string) (*model.User, error)
	createWithIdentityFn func(ctx context.Context, user *model.User, identity *model.Identity) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, user, identity)
	}
	return nil
}

type mockIdentityRepo struct {
	findByProviderFn func(ctx context.Context, provider model.Provider, providerUserID string) (*model.Identity, error)
	createFn         func(ctx context.Context, identity *model.Identity) error
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider model.Provider, providerUserID string) (*model.Identity, error) {
	if m.findByProviderFn != nil {
		return m.findByProviderFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

func (m *mockIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	if m.createFn != nil {
		return m.createFn(ctx, identity)
	}
	return nil
}

type mockSessionRepo struct {
	createFn             func(ctx context.Context, session *model.Session) error
	findActiveByTokenFn  func(ctx context.Context, token string, now time.Time) (*model.SessionWithUser, error)
	listActiveByUserIDFn func(ctx context.Context, userID string, now time.Time) ([]*model.Session, error)
	deleteByIDFn         func(ctx context.Context, id string) error
	deleteExpiredFn      func(ctx context.Context, now time.Time) (int64, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindActiveByToken(ctx context.Context, token string, now time.Time) (*model.SessionWithUser, error) {
	if m.findActiveByTokenFn != nil {
		return m.findActiveByTokenFn(ctx, token, now)
	}
	return nil, nil
}

func (m *mockSessionRepo) ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*model.Session, error) {
	if m.listActiveByUserIDFn != nil {
		return m.listActiveByUserIDFn(ctx, userID, now)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, now)
	}
	return 0, nil
}

type mockVerificationRepo struct {
	createFn        func(ctx context.Context, v *model.Verification) error
	consumeFn       func(ctx context.Context, identifier string) (*model.Verification, error)
	deleteExpiredFn func(ctx context.Context, now time.Time) (int64, error)
}

func (m *mockVerificationRepo) Create(ctx context.Context, v *model.Verification) error {
	if m.createFn != nil {
		return m.createFn(ctx, v)
	}
	return nil
}

func (m *mockVerificationRepo) Consume(ctx context.Context, identifier string) (*model.Verification, error) {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, identifier)
	}
	return nil, nil
}

func (m *mockVerificationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, now)
	}
	return 0, nil
}

type mockOAuthProvider struct {
	name           model.Provider
	pkce           bool
	authCodeURLFn  func(state, verifier string) string
	exchangeCodeFn func(ctx context.Context, code, verifier string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) Name() model.Provider {
	return m.name
}

func (m *mockOAuthProvider) UsesPKCE() bool {
	return m.pkce
}

func (m *mockOAuthProvider) AuthCodeURL(state, verifier string) string {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(state, verifier)
	}
	return "https://provider.example.com/authorize?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code, verifier string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code, verifier)
	}
	return nil, nil
}

type allowAllCallbacks struct{}

func (allowAllCallbacks) Validate(string) error { return nil }

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.IdentityRepository = (*mockIdentityRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ repository.VerificationRepository = (*mockVerificationRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
