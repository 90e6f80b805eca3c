package security

import (
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxNameLength はユーザー名として保存する最大文字数。
const maxNameLength = 255

// ProfileSanitizer はOAuthプロバイダーから受け取ったプロフィールを保存前に無害化する。
type ProfileSanitizer interface {
	// SanitizeName は名前からHTMLマークアップを除去したプレーンテキストを返す。
	SanitizeName(name string) string

	// SanitizeImageURL はhttpsの絶対URLのみを返す。それ以外は空文字列を返す。
	SanitizeImageURL(rawURL string) string
}

// profileSanitizer はProfileSanitizerの実装。
// bluemondayのStrictPolicyは並行利用に安全。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerの新しいインスタンスを生成する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeName は名前からHTMLマークアップを除去したプレーンテキストを返す。
// StrictPolicyはテキストをエスケープして返すため、保存用にアンエスケープする。
func (s *profileSanitizer) SanitizeName(name string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(name))
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > maxNameLength {
		cleaned = string([]rune(cleaned)[:maxNameLength])
	}
	return cleaned
}

// SanitizeImageURL はhttpsの絶対URLのみを返す。それ以外は空文字列を返す。
func (s *profileSanitizer) SanitizeImageURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil || !strings.EqualFold(u.Scheme, "https") || u.Host == "" || u.User != nil {
		return ""
	}
	return u.String()
}
