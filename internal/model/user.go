// Package model はドメインモデルを定義する。
package model

import "time"

// Provider はソーシャルログインのOAuthプロバイダー名を表す。
type Provider string

const (
	// ProviderGitHub はGitHub OAuthを表す。
	ProviderGitHub Provider = "github"
	// ProviderGoogle はGoogle OAuth（PKCE使用）を表す。
	ProviderGoogle Provider = "google"
)

// ParseProvider は文字列をProviderに変換する。未対応の場合はfalseを返す。
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderGitHub, ProviderGoogle:
		return Provider(s), true
	default:
		return "", false
	}
}

// User はサービス利用ユーザーを表す。
// 初回ソーシャルログイン時にメールアドレス単位で作成され、このサブシステムでは削除しない。
type User struct {
	ID            string
	Email         string
	Name          string
	EmailVerified bool
	Image         string // 未設定の場合は空文字列
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Identity は外部IdPアカウントとユーザーの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       Provider
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
// Tokenは署名付きCookieに埋め込まれる不透明な資格情報。
type Session struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsExpired はnow時点でセッションが失効しているかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionWithUser はセッションと所有ユーザーを結合した構造体。
type SessionWithUser struct {
	Session Session
	User    User
}
