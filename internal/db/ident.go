package db

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// SanitizeTable quotes a possibly schema-qualified table name like "sales.store_dim".
func SanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}
