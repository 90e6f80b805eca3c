package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/socialauth/internal/model"
)

// SQLSessionRepo はdatabase/sqlを使用したセッションリポジトリ。
type SQLSessionRepo struct {
	db *sql.DB
}

// NewSQLSessionRepo はSQLSessionRepoを生成する。
func NewSQLSessionRepo(db *sql.DB) *SQLSessionRepo {
	return &SQLSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *SQLSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, token, user_id, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.Token, session.UserID,
		session.ExpiresAt.UTC(), session.CreatedAt.UTC(), session.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindActiveByToken はトークンに一致し、now時点で有効なセッションを所有ユーザーとともに取得する。
// 見つからない・期限切れの場合はnilを返す。
func (r *SQLSessionRepo) FindActiveByToken(ctx context.Context, token string, now time.Time) (*model.SessionWithUser, error) {
	sw := &model.SessionWithUser{}
	var image sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT s.id, s.token, s.user_id, s.expires_at, s.created_at, s.updated_at,
		        u.id, u.email, u.name, u.email_verified, u.image, u.created_at, u.updated_at
		 FROM sessions s
		 INNER JOIN users u ON u.id = s.user_id
		 WHERE s.token = $1 AND s.expires_at > $2`,
		token, now.UTC(),
	).Scan(
		&sw.Session.ID, &sw.Session.Token, &sw.Session.UserID,
		&sw.Session.ExpiresAt, &sw.Session.CreatedAt, &sw.Session.UpdatedAt,
		&sw.User.ID, &sw.User.Email, &sw.User.Name, &sw.User.EmailVerified, &image,
		&sw.User.CreatedAt, &sw.User.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session by token: %w", err)
	}
	sw.User.Image = image.String

	return sw, nil
}

// ListActiveByUserID は指定ユーザーの有効なセッションを作成日時の降順で返す。
func (r *SQLSessionRepo) ListActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, token, user_id, expires_at, created_at, updated_at
		 FROM sessions
		 WHERE user_id = $1 AND expires_at > $2
		 ORDER BY created_at DESC, id`,
		userID, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s := &model.Session{}
		if err := rows.Scan(&s.ID, &s.Token, &s.UserID, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
func (r *SQLSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
func (r *SQLSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*SQLSessionRepo)(nil)
