package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/hitoshi/socialauth/internal/model"
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	HTTPClient   *http.Client

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	// APIURL はuserinfo APIのベースURL（末尾スラッシュ付き）。
	APIURL string
}

// GoogleOAuthProvider はGoogle OAuth 2.0（PKCE）による認証を提供する。
type GoogleOAuthProvider struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	apiURL     string
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
// スコープにはemail, profile, openidを含む。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	endpoint := google.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	// client_id/client_secretはフォームボディで送る
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"email", "profile", "openid"},
		},
		httpClient: httpClient,
		apiURL:     config.APIURL,
	}
}

// Name はプロバイダー名を返す。
func (p *GoogleOAuthProvider) Name() model.Provider {
	return model.ProviderGoogle
}

// UsesPKCE はGoogleではPKCEを使用するためtrueを返す。
func (p *GoogleOAuthProvider) UsesPKCE() bool {
	return true
}

// AuthCodeURL はGoogle OAuthの認証URLを生成する。
// code_challengeはverifierのSHA-256をbase64url（パディングなし）にしたもの。
func (p *GoogleOAuthProvider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// ExchangeCode は認可コードをcode_verifierとともにアクセストークンに交換し、ユーザー情報を取得する。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code, verifier string) (*OAuthUserInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyGoogleTokenError(err)
	}

	userinfo, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info from google: %w", err)
	}

	if userinfo.Email == "" {
		return nil, model.NewNoEmailError(model.ProviderGoogle)
	}

	name := userinfo.Name
	if name == "" {
		name = userinfo.Email
	}

	return &OAuthUserInfo{
		Provider:       model.ProviderGoogle,
		ProviderUserID: userinfo.Id,
		Email:          userinfo.Email,
		EmailVerified:  userinfo.VerifiedEmail != nil && *userinfo.VerifiedEmail,
		Name:           name,
		Image:          userinfo.Picture,
	}, nil
}

// fetchUserInfo はアクセストークンで/oauth2/v2/userinfoを取得する。
func (p *GoogleOAuthProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleoauth2.Userinfo, error) {
	client := &http.Client{
		Timeout: p.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   p.httpClient.Transport,
		},
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.apiURL != "" {
		opts = append(opts, option.WithEndpoint(p.apiURL))
	}

	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo client: %w", err)
	}

	return svc.Userinfo.Get().Context(ctx).Do()
}

// classifyGoogleTokenError はトークン交換のエラーを分類する。
// プロバイダーが拒否した場合はTOKEN_EXCHANGE_FAILED、通信エラーはそのままラップして返す。
func classifyGoogleTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		detail := retrieveErr.ErrorCode
		if detail == "" && retrieveErr.Response != nil {
			detail = fmt.Sprintf("status %d", retrieveErr.Response.StatusCode)
		}
		return model.NewTokenExchangeFailedError(model.ProviderGoogle, detail)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("google token request failed: %w", err)
	}

	// access_tokenを含まない応答など
	return model.NewTokenExchangeFailedError(model.ProviderGoogle, err.Error())
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
