package dbx

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// IsUniqueViolation reports whether err was caused by a unique constraint,
// for either the pgx or the SQLite driver.
func IsUniqueViolation(err error) bool {
	// modernc.org/sqlite reports "constraint failed: UNIQUE constraint failed: ..."
	return isConstraint(err, pgUniqueViolation, "UNIQUE constraint failed")
}

// IsForeignKeyViolation reports whether err was caused by a foreign key,
// typically a parent row deleted while it still has children.
func IsForeignKeyViolation(err error) bool {
	return isConstraint(err, pgForeignKeyViolation, "FOREIGN KEY constraint failed")
}

func isConstraint(err error, pgCode, sqliteText string) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCode
	}
	return strings.Contains(err.Error(), sqliteText)
}

// Placeholders returns n positional parameters starting at $start,
// e.g. Placeholders(2, 3) == "$2, $3, $4".
func Placeholders(start, n int) string {
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(start + i))
	}
	return b.String()
}

// Int64Args converts ids into query arguments.
func Int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
