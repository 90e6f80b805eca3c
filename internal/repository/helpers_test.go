package repository

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/hitoshi/socialauth/internal/database"
	"github.com/hitoshi/socialauth/internal/model"
)

// newTestDB はマイグレーション適用済みの一時SQLiteデータベースを返す。
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, dialect, err := database.Open("sqlite://" + filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.MigrateDB(db, dialect); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	return db
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// seedUser はidentity付きのユーザーを作成する。
func seedUser(t *testing.T, repo *SQLUserRepo, id, email string) *model.User {
	t.Helper()

	user := &model.User{
		ID:            id,
		Email:         email,
		Name:          "User " + id,
		EmailVerified: true,
		Image:         "https://avatars.example.com/" + id,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	identity := &model.Identity{
		ID:             "identity-" + id,
		UserID:         id,
		Provider:       model.ProviderGitHub,
		ProviderUserID: "gh-" + id,
		CreatedAt:      testNow,
	}
	if err := repo.CreateWithIdentity(t.Context(), user, identity); err != nil {
		t.Fatalf("CreateWithIdentity failed: %v", err)
	}
	return user
}
