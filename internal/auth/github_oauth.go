package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/socialauth/internal/model"
)

const (
	defaultGitHubAuthURL  = "https://github.com/login/oauth/authorize"
	defaultGitHubTokenURL = "https://github.com/login/oauth/access_token"
	defaultGitHubAPIURL   = "https://api.github.com"

	// "read:user user:email" をパーセントエンコードしたもの
	githubScope = "read%3Auser%20user%3Aemail"

	maxProviderResponseSize = 1 << 20
)

// GitHubOAuthConfig はGitHub OAuthプロバイダーの設定。
type GitHubOAuthConfig struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	APIURL   string
}

// GitHubOAuthProvider はGitHub OAuthによる認証を提供する。
type GitHubOAuthProvider struct {
	config GitHubOAuthConfig
}

// NewGitHubOAuthProvider はGitHubOAuthProviderを生成する。
func NewGitHubOAuthProvider(config GitHubOAuthConfig) *GitHubOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGitHubAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGitHubTokenURL
	}
	if config.APIURL == "" {
		config.APIURL = defaultGitHubAPIURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &GitHubOAuthProvider{config: config}
}

// Name はプロバイダー名を返す。
func (p *GitHubOAuthProvider) Name() model.Provider {
	return model.ProviderGitHub
}

// UsesPKCE はGitHubではPKCEを使用しないためfalseを返す。
func (p *GitHubOAuthProvider) UsesPKCE() bool {
	return false
}

// AuthCodeURL はGitHub OAuthの認証URLを生成する。
func (p *GitHubOAuthProvider) AuthCodeURL(state, _ string) string {
	return p.config.AuthURL +
		"?response_type=code" +
		"&client_id=" + url.QueryEscape(p.config.ClientID) +
		"&state=" + url.QueryEscape(state) +
		"&scope=" + githubScope
}

// githubTokenResponse はGitHubのトークンエンドポイントのレスポンス。
// 交換失敗時もHTTP 200でerrorフィールドが返る。
type githubTokenResponse struct {
	AccessToken      string `json:"access_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
// プロフィールとメールアドレス一覧は並行に取得する。
func (p *GitHubOAuthProvider) ExchangeCode(ctx context.Context, code, _ string) (*OAuthUserInfo, error) {
	accessToken, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}

	var (
		user   githubUser
		emails []githubEmail
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.getJSON(gctx, "/user", accessToken, &user)
	})
	g.Go(func() error {
		return p.getJSON(gctx, "/user/emails", accessToken, &emails)
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch user or emails from github: %w", err)
	}

	email, verified := selectGitHubEmail(user, emails)
	if email == "" {
		return nil, model.NewNoEmailError(model.ProviderGitHub)
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}
	if name == "" {
		name = email
	}

	return &OAuthUserInfo{
		Provider:       model.ProviderGitHub,
		ProviderUserID: strconv.FormatInt(user.ID, 10),
		Email:          email,
		EmailVerified:  verified,
		Name:           name,
		Image:          user.AvatarURL,
	}, nil
}

// selectGitHubEmail はprimaryかつverifiedのメールアドレスを優先し、
// なければプロフィールの公開メールアドレスを返す。
func selectGitHubEmail(user githubUser, emails []githubEmail) (string, bool) {
	for _, e := range emails {
		if e.Primary && e.Verified && e.Email != "" {
			return e.Email, true
		}
	}
	return user.Email, false
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *GitHubOAuthProvider) exchangeToken(ctx context.Context, code string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     p.config.ClientID,
		"client_secret": p.config.ClientSecret,
		"code":          code,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("github token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read github token response: %w", err)
	}

	var tokenResp githubTokenResponse
	if err := json.Unmarshal(raw, &tokenResp); err != nil {
		return "", model.NewTokenExchangeFailedError(model.ProviderGitHub,
			fmt.Sprintf("unexpected token response (status %d)", resp.StatusCode))
	}
	if tokenResp.AccessToken == "" {
		detail := tokenResp.Error
		if tokenResp.ErrorDescription != "" {
			detail = tokenResp.Error + ": " + tokenResp.ErrorDescription
		}
		return "", model.NewTokenExchangeFailedError(model.ProviderGitHub, detail)
	}

	return tokenResp.AccessToken, nil
}

// getJSON はGitHub APIにGETリクエストを送り、レスポンスをdstにデコードする。
func (p *GitHubOAuthProvider) getJSON(ctx context.Context, path, accessToken string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.APIURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("github %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderResponseSize)).Decode(dst); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}

// compile-time interface check
var _ OAuthProvider = (*GitHubOAuthProvider)(nil)
