package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/socialauth/internal/model"
)

// SQLIdentityRepo はdatabase/sqlを使用したidentityリポジトリ。
type SQLIdentityRepo struct {
	db *sql.DB
}

// NewSQLIdentityRepo はSQLIdentityRepoを生成する。
func NewSQLIdentityRepo(db *sql.DB) *SQLIdentityRepo {
	return &SQLIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *SQLIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider model.Provider, providerUserID string) (*model.Identity, error) {
	identity := &model.Identity{}
	var p string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		string(provider), providerUserID,
	).Scan(&identity.ID, &identity.UserID, &p, &identity.ProviderUserID, &identity.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	identity.Provider = model.Provider(p)

	return identity, nil
}

// Create はidentityを作成する。既に同じ(provider, provider_user_id)が存在する場合は何もしない。
func (r *SQLIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (provider, provider_user_id) DO NOTHING`,
		identity.ID, identity.UserID, string(identity.Provider), identity.ProviderUserID, identity.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*SQLIdentityRepo)(nil)
