package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/hitoshi/socialauth/internal/metrics"
	"github.com/hitoshi/socialauth/internal/model"
	"github.com/hitoshi/socialauth/internal/repository"
	"github.com/hitoshi/socialauth/internal/security"
)

// ErrSessionNotFound は署名は有効だが対応する有効なセッションが存在しない場合に返す。
var ErrSessionNotFound = errors.New("session not found or expired")

// CallbackValidator はログイン完了後のリダイレクト先を検証する。
type CallbackValidator interface {
	Validate(callbackURL string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	VerificationTTL time.Duration // OAuthフロー開始から完了までの猶予
	SessionTTL      time.Duration // セッション有効期間
}

// ServiceDeps は認証サービスの依存コンポーネント。
type ServiceDeps struct {
	Providers        []OAuthProvider
	UserRepo         repository.UserRepository
	IdentityRepo     repository.IdentityRepository
	SessionRepo      repository.SessionRepository
	VerificationRepo repository.VerificationRepository
	Callbacks        CallbackValidator
	Sanitizer        security.ProfileSanitizer
	Tokens           *TokenIssuer
	Metrics          metrics.MetricsCollector // nilの場合は記録しない
}

// SocialLoginResult はソーシャルログイン開始の結果。
type SocialLoginResult struct {
	URL      string `json:"url"`
	Redirect bool   `json:"redirect"`
}

// CallbackResult はOAuthコールバック処理の結果。
type CallbackResult struct {
	Session     *model.Session
	User        *model.User
	CallbackURL string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	providers        map[model.Provider]OAuthProvider
	userRepo         repository.UserRepository
	identRepo        repository.IdentityRepository
	sessionRepo      repository.SessionRepository
	verificationRepo repository.VerificationRepository
	callbacks        CallbackValidator
	sanitizer        security.ProfileSanitizer
	tokens           *TokenIssuer
	metrics          metrics.MetricsCollector
	config           ServiceConfig
	now              func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps ServiceDeps, config ServiceConfig) *Service {
	providers := make(map[model.Provider]OAuthProvider, len(deps.Providers))
	for _, p := range deps.Providers {
		providers[p.Name()] = p
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.NopCollector{}
	}

	return &Service{
		providers:        providers,
		userRepo:         deps.UserRepo,
		identRepo:        deps.IdentityRepo,
		sessionRepo:      deps.SessionRepo,
		verificationRepo: deps.VerificationRepo,
		callbacks:        deps.Callbacks,
		sanitizer:        deps.Sanitizer,
		tokens:           deps.Tokens,
		metrics:          m,
		config:           config,
		now:              time.Now,
	}
}

// SetClock はテスト用に現在時刻の取得関数を差し替える。
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) provider(name string) (OAuthProvider, error) {
	provider, ok := model.ParseProvider(name)
	if !ok {
		return nil, model.NewInvalidProviderError(name)
	}
	p, ok := s.providers[provider]
	if !ok {
		return nil, model.NewInvalidProviderError(name)
	}
	return p, nil
}

// SocialLogin はOAuthフローを開始する。
// 保留状態をVerificationとして保存し、その識別子をstateとした認可URLを返す。
// Googleの場合はPKCEのcode_verifierを生成してVerificationに保存する。
func (s *Service) SocialLogin(ctx context.Context, providerName, callbackURL string) (*SocialLoginResult, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}
	if err := s.callbacks.Validate(callbackURL); err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.config.VerificationTTL)

	payload := model.VerificationPayload{
		Provider:    p.Name(),
		CallbackURL: callbackURL,
		ExpiresAt:   expiresAt.UnixMilli(),
	}
	var verifier string
	if p.UsesPKCE() {
		verifier = oauth2.GenerateVerifier()
		payload.CodeVerifier = verifier
	}

	value, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	verification := &model.Verification{
		Value:     value,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := s.verificationRepo.Create(ctx, verification); err != nil {
		return nil, fmt.Errorf("failed to store verification: %w", err)
	}

	s.metrics.RecordLoginStarted(string(p.Name()))
	slog.Info("social login started",
		slog.String("provider", string(p.Name())),
		slog.String("verification_id", verification.ID),
	)

	return &SocialLoginResult{
		URL:      p.AuthCodeURL(verification.Identifier, verifier),
		Redirect: true,
	}, nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// stateに対応するVerificationは成否にかかわらず消費され、再利用できない。
// 未登録のメールアドレスの場合はusersレコードとidentitiesレコードを同時に作成する。
func (s *Service) HandleCallback(ctx context.Context, providerName, code, state string) (*CallbackResult, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}

	result, err := s.handleCallback(ctx, p, code, state)
	s.metrics.RecordCallback(string(p.Name()), callbackOutcome(err))
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSessionIssued()

	return result, nil
}

func (s *Service) handleCallback(ctx context.Context, p OAuthProvider, code, state string) (*CallbackResult, error) {
	// 1. stateを消費して保留状態を復元
	payload, err := s.consumeState(ctx, p, state)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, model.NewInvalidRequestError("code is required")
	}

	// 2. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := p.ExchangeCode(ctx, code, payload.CodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange %s oauth code: %w", p.Name(), err)
	}

	// 3. メールアドレス単位でユーザーをupsert
	user, err := s.upsertUser(ctx, userInfo)
	if err != nil {
		return nil, err
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &CallbackResult{
		Session:     session,
		User:        user,
		CallbackURL: payload.CallbackURL,
	}, nil
}

// consumeState はstateに対応するVerificationを消費し、ペイロードを返す。
// 未知・期限切れ・破損・プロバイダー不一致・（PKCEの場合）verifier欠落はすべてINVALID_STATEとする。
func (s *Service) consumeState(ctx context.Context, p OAuthProvider, state string) (*model.VerificationPayload, error) {
	if state == "" {
		return nil, model.NewInvalidStateError()
	}

	verification, err := s.verificationRepo.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification: %w", err)
	}

	now := s.now()
	if verification == nil || verification.IsExpired(now) {
		return nil, model.NewInvalidStateError()
	}

	payload, err := model.DecodeVerificationPayload(verification.Value)
	if err != nil {
		slog.Warn("corrupt verification payload",
			slog.String("verification_id", verification.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidStateError()
	}
	if payload.ExpiresAt != 0 && now.UnixMilli() >= payload.ExpiresAt {
		return nil, model.NewInvalidStateError()
	}
	if payload.Provider != p.Name() {
		slog.Warn("state presented to a different provider",
			slog.String("verification_id", verification.ID),
			slog.String("started_with", string(payload.Provider)),
			slog.String("callback_provider", string(p.Name())),
		)
		return nil, model.NewInvalidStateError()
	}
	if p.UsesPKCE() && payload.CodeVerifier == "" {
		return nil, model.NewInvalidStateError()
	}

	return payload, nil
}

// upsertUser はメールアドレスでユーザーを検索し、存在しなければidentityとともに作成する。
// 既存ユーザーにはidentityを冪等に紐付ける。
func (s *Service) upsertUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, info.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		if err := s.linkIdentity(ctx, user.ID, info); err != nil {
			return nil, err
		}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", string(info.Provider)),
		)
		return user, nil
	}

	// プロバイダー側でメールアドレスが変更された場合は、identityの紐付け先ユーザーでログインする
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		user, err := s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user != nil {
			return user, nil
		}
	}

	now := s.now()
	name := s.sanitizer.SanitizeName(info.Name)
	if name == "" {
		name = info.Email
	}
	newUser := &model.User{
		ID:            uuid.New().String(),
		Email:         info.Email,
		Name:          name,
		EmailVerified: info.EmailVerified,
		Image:         s.sanitizer.SanitizeImageURL(info.Image),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         newUser.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}
		// 同じメールアドレスの並行ログインに負けた場合は作成済みのユーザーを使う
		existing, findErr := s.userRepo.FindByEmail(ctx, info.Email)
		if findErr != nil || existing == nil {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}
		if err := s.linkIdentity(ctx, existing.ID, info); err != nil {
			return nil, err
		}
		return existing, nil
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("provider", string(info.Provider)),
	)
	return newUser, nil
}

func (s *Service) linkIdentity(ctx context.Context, userID string, info *OAuthUserInfo) error {
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         userID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      s.now(),
	}
	if err := s.identRepo.Create(ctx, identity); err != nil {
		return fmt.Errorf("failed to link identity: %w", err)
	}
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        uuid.New().String(),
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(s.config.SessionTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// IssueSessionToken はセッションを署名付きトークンにし、トークンとその有効期限を返す。
func (s *Service) IssueSessionToken(session *model.Session) (string, time.Time, error) {
	return s.tokens.Issue(session, s.now())
}

// Authenticate は署名付きトークンから有効なセッションと所有ユーザーを解決する。
// get-sessionとセッションミドルウェアの両方がこの経路を使う。
// 署名・有効期限が不正な場合はErrInvalidToken、セッションがない場合はErrSessionNotFoundを返す。
func (s *Service) Authenticate(ctx context.Context, signedToken string) (*model.SessionWithUser, error) {
	now := s.now()

	claims, err := s.tokens.Parse(signedToken, now)
	if err != nil {
		return nil, err
	}

	sw, err := s.sessionRepo.FindActiveByToken(ctx, claims.Token, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sw == nil || sw.Session.ID != claims.SessionID {
		return nil, ErrSessionNotFound
	}

	return sw, nil
}

// SignOut はセッションを破棄する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out", slog.String("session_id", sessionID))
	return nil
}

// callbackOutcome はコールバック結果をメトリクスのラベル値に変換する。
func callbackOutcome(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrCodeInvalidState:
			return metrics.OutcomeInvalidState
		case model.ErrCodeTokenExchangeFailed:
			return metrics.OutcomeProviderError
		case model.ErrCodeNoEmail:
			return metrics.OutcomeNoEmail
		}
	}
	return metrics.OutcomeError
}

// generateSessionToken は暗号的に安全なセッショントークン（32バイトの16進数）を生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
