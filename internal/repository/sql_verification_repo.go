package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/socialauth/internal/model"
)

// SQLVerificationRepo はdatabase/sqlを使用したVerificationリポジトリ。
type SQLVerificationRepo struct {
	db *sql.DB
}

// NewSQLVerificationRepo はSQLVerificationRepoを生成する。
func NewSQLVerificationRepo(db *sql.DB) *SQLVerificationRepo {
	return &SQLVerificationRepo{db: db}
}

// Create はVerificationを保存する。IDとIdentifierを生成してvに設定する。
func (r *SQLVerificationRepo) Create(ctx context.Context, v *model.Verification) error {
	identifier, err := newIdentifier()
	if err != nil {
		return err
	}
	id := uuid.New().String()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO verifications (id, identifier, value, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, identifier, v.Value, v.ExpiresAt.UTC(), v.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create verification: %w", err)
	}

	v.ID = id
	v.Identifier = identifier
	return nil
}

// Consume はidentifierに一致するVerificationを削除し、削除した内容を返す。
// 同じidentifierで並行に呼ばれても、レコードを受け取れるのは1回だけ。
func (r *SQLVerificationRepo) Consume(ctx context.Context, identifier string) (*model.Verification, error) {
	v := &model.Verification{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM verifications
		 WHERE identifier = $1
		 RETURNING id, identifier, value, expires_at, created_at`,
		identifier,
	).Scan(&v.ID, &v.Identifier, &v.Value, timeColumn{&v.ExpiresAt}, timeColumn{&v.CreatedAt})

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification: %w", err)
	}

	return v, nil
}

// DeleteExpired はnow時点で期限切れのVerificationを削除し、削除件数を返す。
func (r *SQLVerificationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM verifications WHERE expires_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verifications: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ VerificationRepository = (*SQLVerificationRepo)(nil)
