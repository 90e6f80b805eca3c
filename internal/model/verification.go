package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Verification はOAuthフロー開始時に保存する短命・単回使用のレコード。
// IdentifierはOAuthのstateパラメータを兼ねる。
type Verification struct {
	ID         string
	Identifier string
	Value      string // VerificationPayloadのJSON
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// IsExpired はnow時点で失効しているかを返す。
func (v *Verification) IsExpired(now time.Time) bool {
	return !v.ExpiresAt.After(now)
}

// VerificationPayload はVerification.Valueに保存するOAuthフローの保留状態。
// Providerはフローを開始したプロバイダーで、別プロバイダーのコールバックでの消費を防ぐ。
type VerificationPayload struct {
	Provider     Provider `json:"provider"`
	CallbackURL  string   `json:"callbackURL"`
	ExpiresAt    int64    `json:"expiresAt"` // Unixミリ秒
	CodeVerifier string   `json:"codeVerifier,omitempty"`
}

// Encode はペイロードをJSON文字列にする。
func (p VerificationPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode verification payload: %w", err)
	}
	return string(b), nil
}

// DecodeVerificationPayload はVerification.Valueを復元する。
func DecodeVerificationPayload(value string) (*VerificationPayload, error) {
	var p VerificationPayload
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return nil, fmt.Errorf("failed to decode verification payload: %w", err)
	}
	return &p, nil
}
