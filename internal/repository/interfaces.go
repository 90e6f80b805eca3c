// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/socialauth/internal/model"
)

// ErrDuplicate は一意制約違反で作成できなかった場合に返す。
var ErrDuplicate = errors.New("duplicate record")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// メールアドレスが既に存在する場合はErrDuplicateをラップしたエラーを返す。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider model.Provider, providerUserID string) (*model.Identity, error)

	// Create はidentityを作成する。既に同じ(provider, provider_user_id)が存在する場合は何もしない。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindActiveByToken はトークンに一致し、now時点で有効なセッションを所有ユーザーとともに取得する。
	// 見つからない・期限切れの場合はnilを返す。
	FindActiveByToken(ctx context.Context, token string, now time.Time) (*model.SessionWithUser, error)

	// ListActiveByUserID は指定ユーザーの有効なセッションを作成日時の降順で返す。
	ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*model.Session, error)

	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// VerificationRepository はOAuthフローの保留状態（Verification）の永続化インターフェース。
type VerificationRepository interface {
	// Create はVerificationを保存する。
	// IDとIdentifierはストアが生成してvに設定する。
	Create(ctx context.Context, v *model.Verification) error

	// Consume はidentifierに一致するVerificationを取得と同時に削除する。
	// 見つからない場合はnilを返す。期限の判定は呼び出し側で行う。
	Consume(ctx context.Context, identifier string) (*model.Verification, error)

	// DeleteExpired はnow時点で期限切れのVerificationを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
