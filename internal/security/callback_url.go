package security

import (
	"net/url"
	"strings"

	"github.com/hitoshi/socialauth/internal/model"
)

// CallbackURLValidator はログイン完了後のリダイレクト先を検証する。
// ローカルパスか、許可オリジン（BASE_URLを含む）上の絶対URLのみを許可する。
type CallbackURLValidator struct {
	origins map[string]struct{}
}

// NewCallbackURLValidator はCallbackURLValidatorを生成する。
func NewCallbackURLValidator(baseURL string, acceptedOrigins []string) *CallbackURLValidator {
	v := &CallbackURLValidator{origins: make(map[string]struct{})}
	for _, o := range append([]string{baseURL}, acceptedOrigins...) {
		if origin, ok := originOf(o); ok {
			v.origins[origin] = struct{}{}
		}
	}
	return v
}

// Validate はcallbackURLが許可されたリダイレクト先であることを検証する。
// 許可されない場合はINVALID_CALLBACK_URLのAPIErrorを返す。
func (v *CallbackURLValidator) Validate(callbackURL string) error {
	if v.isAllowed(callbackURL) {
		return nil
	}
	return model.NewInvalidCallbackURLError(callbackURL)
}

// IsAllowedOrigin はoriginが許可オリジンに含まれるかを返す。CORSでも使用する。
func (v *CallbackURLValidator) IsAllowedOrigin(origin string) bool {
	normalized, ok := originOf(origin)
	if !ok {
		return false
	}
	_, allowed := v.origins[normalized]
	return allowed
}

func (v *CallbackURLValidator) isAllowed(callbackURL string) bool {
	if callbackURL == "" || strings.ContainsAny(callbackURL, "\\\r\n\t") {
		return false
	}

	// ローカルパス（プロトコル相対URL "//host" は除く）
	if strings.HasPrefix(callbackURL, "/") {
		return !strings.HasPrefix(callbackURL, "//")
	}

	u, err := url.Parse(callbackURL)
	if err != nil || u.User != nil {
		return false
	}
	origin, ok := originOf(callbackURL)
	if !ok {
		return false
	}
	_, allowed := v.origins[origin]
	return allowed
}

// originOf は絶対URLのオリジン（scheme://host[:port]）を小文字で返す。
func originOf(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	return scheme + "://" + strings.ToLower(u.Host), true
}
