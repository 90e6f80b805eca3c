// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"

	"github.com/hitoshi/socialauth/internal/model"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Provider       model.Provider
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Image          string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Name はプロバイダー名を返す。
	Name() model.Provider

	// UsesPKCE は認可リクエストにPKCE（S256）を付与するかを返す。
	UsesPKCE() bool

	// AuthCodeURL はOAuth認証URLを生成する。
	// verifierはUsesPKCEがtrueの場合のみ使用する。
	AuthCodeURL(state, verifier string) string

	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	// プロバイダーが交換を拒否した場合やメールアドレスが得られない場合は*model.APIErrorを返す。
	ExchangeCode(ctx context.Context, code, verifier string) (*OAuthUserInfo, error)
}
