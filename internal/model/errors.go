// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// クライアントに返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, provider, system
	Action   string // クライアント向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeTokenExchangeFailed = "TOKEN_EXCHANGE_FAILED"
	ErrCodeNoEmail             = "NO_EMAIL"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInvalidProvider     = "INVALID_PROVIDER"
	ErrCodeInvalidCallbackURL  = "INVALID_CALLBACK_URL"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewInvalidStateError はstateパラメータが未知・期限切れ・使用済みの場合のエラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "Invalid or expired state parameter",
		Category: "auth",
		Action:   "Start the sign-in flow again.",
	}
}

// NewTokenExchangeFailedError はプロバイダーが認可コードの交換を拒否した場合のエラーを生成する。
// detailにはプロバイダーが返したエラー内容を含める。
func NewTokenExchangeFailedError(provider Provider, detail string) *APIError {
	if detail == "" {
		detail = "unknown error"
	}
	return &APIError{
		Code:     ErrCodeTokenExchangeFailed,
		Message:  fmt.Sprintf("Failed to get access token from %s: %s", provider, detail),
		Category: "provider",
		Action:   "Start the sign-in flow again.",
	}
}

// NewNoEmailError はプロバイダーのプロフィールに利用可能なメールアドレスがない場合のエラーを生成する。
func NewNoEmailError(provider Provider) *APIError {
	return &APIError{
		Code:     ErrCodeNoEmail,
		Message:  fmt.Sprintf("No email found from %s", provider),
		Category: "provider",
		Action:   "Make a verified email address available on your provider account.",
	}
}

// NewUnauthorizedError は認証情報がない・無効な場合のエラーを生成する。
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewInvalidProviderError は未対応のプロバイダーが指定された場合のエラーを生成する。
func NewInvalidProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProvider,
		Message:  fmt.Sprintf("Unsupported provider: %s", provider),
		Category: "validation",
		Action:   "Use one of: google, github.",
	}
}

// NewInvalidCallbackURLError はcallbackURLが許可されていない場合のエラーを生成する。
func NewInvalidCallbackURLError(callbackURL string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCallbackURL,
		Message:  fmt.Sprintf("Callback URL is not allowed: %s", callbackURL),
		Category: "validation",
		Action:   "Use a relative path or a URL on an accepted origin.",
	}
}

// NewInvalidRequestError はリクエストの形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the request parameters.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewRateLimitedError はクライアントIPごとのリクエスト数が上限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は内部エラーの汎用レスポンスを生成する。詳細はログのみに残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
		Action:   "Please try again later.",
	}
}
