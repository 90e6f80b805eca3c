package auth

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/hitoshi/socialauth/internal/database"
	"github.com/hitoshi/socialauth/internal/model"
	"github.com/hitoshi/socialauth/internal/repository"
	"github.com/hitoshi/socialauth/internal/security"
)

type flowFixture struct {
	svc      *Service
	sessions *repository.SQLSessionRepo
	identity *repository.SQLIdentityRepo
	github   *fakeGitHub
	google   *fakeGoogle
}

// newFlowFixture はSQLiteと実リポジトリ、偽のGitHub/Googleサーバーで認証サービスを組み立てる。
func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()

	db, dialect, err := database.Open("sqlite://" + filepath.Join(t.TempDir(), "flow.db"))
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.MigrateDB(db, dialect); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	gh := &fakeGitHub{
		tokenResponse: map[string]string{"access_token": "gho_flow"},
		user:          map[string]any{"id": 777, "login": "octo", "name": "Octo", "avatar_url": "https://avatars.githubusercontent.com/u/777"},
		emails:        []map[string]any{{"email": "a@b.com", "primary": true, "verified": true}},
	}
	ghSrv := gh.start(t)

	gg := &fakeGoogle{
		tokenBody: map[string]any{"access_token": "ya29.flow", "token_type": "Bearer"},
		userinfo:  map[string]any{"id": "g-555", "email": "a@b.com", "verified_email": true, "name": "Alice"},
	}
	ggSrv := gg.start(t)

	sessions := repository.NewSQLSessionRepo(db)
	identities := repository.NewSQLIdentityRepo(db)

	svc := NewService(ServiceDeps{
		Providers: []OAuthProvider{
			newFakeGitHubProvider(ghSrv),
			newFakeGoogleProvider(ggSrv),
		},
		UserRepo:         repository.NewSQLUserRepo(db),
		IdentityRepo:     identities,
		SessionRepo:      sessions,
		VerificationRepo: repository.NewSQLVerificationRepo(db),
		Callbacks:        security.NewCallbackURLValidator("http://localhost:8000", []string{"http://localhost:3000"}),
		Sanitizer:        security.NewProfileSanitizer(),
		Tokens:           NewTokenIssuer("flow-secret", 7*24*time.Hour),
	}, testServiceConfig)
	svc.SetClock(func() time.Time { return serviceNow })

	return &flowFixture{svc: svc, sessions: sessions, identity: identities, github: gh, google: gg}
}

// startLogin はソーシャルログインを開始し、認可URLのstateを返す。
func (f *flowFixture) startLogin(t *testing.T, provider, callbackURL string) string {
	t.Helper()
	res, err := f.svc.SocialLogin(context.Background(), provider, callbackURL)
	if err != nil {
		t.Fatalf("SocialLogin(%s) error = %v", provider, err)
	}
	u, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("invalid authorization URL %q: %v", res.URL, err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("authorization URL has no state: %s", res.URL)
	}
	return state
}

func TestFlow_GitHubLogin_CreatesUserAndSession(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	state := f.startLogin(t, "github", "/dashboard")
	res, err := f.svc.HandleCallback(ctx, "github", "code-1", state)
	if err != nil {
		t.Fatalf("HandleCallback error = %v", err)
	}

	if res.CallbackURL != "/dashboard" {
		t.Errorf("CallbackURL = %q, want /dashboard", res.CallbackURL)
	}
	if res.User.Email != "a@b.com" || !res.User.EmailVerified {
		t.Errorf("User = %+v, want a@b.com verified", res.User)
	}
	if res.User.Name != "Octo" {
		t.Errorf("Name = %q, want Octo", res.User.Name)
	}

	// 発行したトークンで同じユーザーに解決できる
	signed, _, err := f.svc.IssueSessionToken(res.Session)
	if err != nil {
		t.Fatalf("IssueSessionToken error = %v", err)
	}
	sw, err := f.svc.Authenticate(ctx, signed)
	if err != nil {
		t.Fatalf("Authenticate error = %v", err)
	}
	if sw.User.ID != res.User.ID || sw.Session.ID != res.Session.ID {
		t.Errorf("Authenticate resolved %s/%s, want %s/%s", sw.User.ID, sw.Session.ID, res.User.ID, res.Session.ID)
	}

	// サインアウト後は解決できない
	if err := f.svc.SignOut(ctx, res.Session.ID); err != nil {
		t.Fatalf("SignOut error = %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, signed); err != ErrSessionNotFound {
		t.Errorf("Authenticate after sign-out error = %v, want ErrSessionNotFound", err)
	}
}

func TestFlow_StateReplay_Rejected(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	state := f.startLogin(t, "github", "/dashboard")
	if _, err := f.svc.HandleCallback(ctx, "github", "code-1", state); err != nil {
		t.Fatalf("first HandleCallback error = %v", err)
	}

	_, err := f.svc.HandleCallback(ctx, "github", "code-1", state)
	assertAPIErrorCode(t, err, model.ErrCodeInvalidState)
}

func TestFlow_ExpiredState_Rejected(t *testing.T) {
	f := newFlowFixture(t)

	state := f.startLogin(t, "github", "/dashboard")
	f.svc.SetClock(func() time.Time { return serviceNow.Add(testServiceConfig.VerificationTTL + time.Second) })

	_, err := f.svc.HandleCallback(context.Background(), "github", "code-1", state)
	assertAPIErrorCode(t, err, model.ErrCodeInvalidState)
}

func TestFlow_SameEmailTwice_OneUserTwoSessions(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	first, err := f.svc.HandleCallback(ctx, "github", "code-1", f.startLogin(t, "github", "/"))
	if err != nil {
		t.Fatalf("first HandleCallback error = %v", err)
	}
	second, err := f.svc.HandleCallback(ctx, "github", "code-2", f.startLogin(t, "github", "/"))
	if err != nil {
		t.Fatalf("second HandleCallback error = %v", err)
	}

	if first.User.ID != second.User.ID {
		t.Errorf("user IDs differ: %s vs %s", first.User.ID, second.User.ID)
	}
	if first.Session.ID == second.Session.ID || first.Session.Token == second.Session.Token {
		t.Error("each login should create a distinct session")
	}

	sessions, err := f.sessions.ListActiveByUserID(ctx, first.User.ID, serviceNow)
	if err != nil {
		t.Fatalf("ListActiveByUserID error = %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("sessions = %d, want 2", len(sessions))
	}
}

func TestFlow_GoogleLogin_LinksToExistingUser(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	gh, err := f.svc.HandleCallback(ctx, "github", "code-1", f.startLogin(t, "github", "/"))
	if err != nil {
		t.Fatalf("github HandleCallback error = %v", err)
	}

	state := f.startLogin(t, "google", "http://localhost:3000/home")
	g, err := f.svc.HandleCallback(ctx, "google", "google-code", state)
	if err != nil {
		t.Fatalf("google HandleCallback error = %v", err)
	}

	if g.User.ID != gh.User.ID {
		t.Errorf("google login user = %s, want existing %s", g.User.ID, gh.User.ID)
	}
	if g.CallbackURL != "http://localhost:3000/home" {
		t.Errorf("CallbackURL = %q", g.CallbackURL)
	}
	// PKCEのverifierがトークンリクエストに渡っている
	if len(f.google.gotForm.Get("code_verifier")) != 43 {
		t.Errorf("code_verifier = %q, want 43 chars", f.google.gotForm.Get("code_verifier"))
	}

	identity, err := f.identity.FindByProviderAndProviderUserID(ctx, model.ProviderGoogle, "g-555")
	if err != nil {
		t.Fatalf("FindByProviderAndProviderUserID error = %v", err)
	}
	if identity == nil || identity.UserID != gh.User.ID {
		t.Errorf("google identity = %+v, want linked to %s", identity, gh.User.ID)
	}
}

func TestFlow_GoogleReplay_Rejected(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	state := f.startLogin(t, "google", "/")
	if _, err := f.svc.HandleCallback(ctx, "google", "google-code", state); err != nil {
		t.Fatalf("HandleCallback error = %v", err)
	}
	_, err := f.svc.HandleCallback(ctx, "google", "google-code", state)
	assertAPIErrorCode(t, err, model.ErrCodeInvalidState)
}

func TestFlow_StateFromOtherProvider_Rejected(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	state := f.startLogin(t, "google", "/")
	_, err := f.svc.HandleCallback(ctx, "github", "code-1", state)
	assertAPIErrorCode(t, err, model.ErrCodeInvalidState)
	if f.github.gotTokenBody != nil {
		t.Errorf("github token endpoint called with %v, want no exchange", f.github.gotTokenBody)
	}

	// stateは単回使用のため、本来のプロバイダーでも再利用できない
	_, err = f.svc.HandleCallback(ctx, "google", "google-code", state)
	assertAPIErrorCode(t, err, model.ErrCodeInvalidState)
}
