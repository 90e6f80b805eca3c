package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect は接続先データベースの種類を表す。
type Dialect string

const (
	// DialectPostgres はPostgreSQL（lib/pq）を表す。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite はSQLite（modernc.org/sqlite）を表す。
	DialectSQLite Dialect = "sqlite"
)

// ParseURL はDATABASE_URLからDialectとdatabase/sqlに渡すDSNを解決する。
//
//	postgres://... / postgresql://...  → DialectPostgres（URLをそのままDSNとして使用）
//	sqlite://path / file:path          → DialectSQLite
func ParseURL(databaseURL string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return DialectSQLite, sqliteDSN(strings.TrimPrefix(databaseURL, "sqlite://")), nil
	case strings.HasPrefix(databaseURL, "file:"):
		return DialectSQLite, sqliteDSN(databaseURL), nil
	default:
		return "", "", fmt.Errorf("unsupported database URL scheme: %q", redactURL(databaseURL))
	}
}

// sqliteDSN は外部キー制約とタイムスタンプ書式をDSNに付与する。
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// Open はDATABASE_URLに対応するドライバでデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string) (*sql.DB, Dialect, error) {
	dialect, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLiteは単一ライターのため接続を1本に絞る
		db.SetMaxOpenConns(1)
	}

	return db, dialect, nil
}

// redactURL はログ・エラー出力用にURLの認証情報を伏せる。
func redactURL(url string) string {
	if i := strings.Index(url, "@"); i >= 0 {
		if j := strings.Index(url, "://"); j >= 0 && j < i {
			return url[:j+3] + "***" + url[i:]
		}
	}
	return url
}

// RedactURL はredactURLの公開版。起動ログで使用する。
func RedactURL(url string) string {
	return redactURL(url)
}
