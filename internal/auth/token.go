package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/socialauth/internal/model"
)

// ErrInvalidToken は署名付きセッショントークンの署名・形式・有効期限が不正な場合に返す。
var ErrInvalidToken = errors.New("invalid session token")

// SessionClaims は署名付きセッショントークンのクレーム。
// 含めるのはid（セッションID）、token（セッショントークン）、expのみ。
type SessionClaims struct {
	SessionID string `json:"id"`
	Token     string `json:"token"`
	jwt.RegisteredClaims
}

// TokenIssuer はセッションをHS256で署名したトークンに変換し、検証する。
type TokenIssuer struct {
	secret    []byte
	expiresIn time.Duration
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string, expiresIn time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// Issue はセッションを署名付きトークンにする。
// expはセッションの有効期限とnow+expiresInのうち早い方（秒精度）。
func (i *TokenIssuer) Issue(session *model.Session, now time.Time) (string, time.Time, error) {
	exp := now.Add(i.expiresIn)
	if session.ExpiresAt.Before(exp) {
		exp = session.ExpiresAt
	}

	claims := SessionClaims{
		SessionID: session.ID,
		Token:     session.Token,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, claims.ExpiresAt.Time, nil
}

// Parse は署名付きトークンを検証し、クレームを返す。
// 署名アルゴリズムはHS256のみ受け付け、expは必須。
func (i *TokenIssuer) Parse(signed string, now time.Time) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(signed, claims,
		func(*jwt.Token) (any, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Token == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session claims", ErrInvalidToken)
	}

	return claims, nil
}
