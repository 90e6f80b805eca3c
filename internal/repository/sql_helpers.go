package repository

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// pgUniqueViolation はPostgreSQLのunique_violationのSQLSTATE。
const pgUniqueViolation = "23505"

// isUniqueViolation はPostgreSQL・SQLiteいずれかの一意制約違反エラーかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// sqliteTimeLayouts はSQLiteがTEXTで返す日時の書式。
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// timeColumn はRETURNING句などで型情報が失われ、日時が文字列で返る場合にも対応するScanner。
type timeColumn struct {
	t *time.Time
}

// Scan はsql.Scannerを実装する。
func (c timeColumn) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*c.t = v.UTC()
		return nil
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	case int64:
		*c.t = time.Unix(v, 0).UTC()
		return nil
	default:
		return fmt.Errorf("unsupported time column type %T", src)
	}
}

func (c timeColumn) parse(s string) error {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*c.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparsable time column value %q", s)
}

// newIdentifier は32バイトの暗号論的乱数をbase64url（パディングなし）で返す。
func newIdentifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate identifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
