package sqlstore

import (
	"strconv"
	"strings"
)

// rebind rewrites a query written with "?" placeholders into the target
// dialect's placeholder syntax. Queries throughout this package are authored
// with ? and rebound once per dialect, since pgx requires $1, $2, ... while
// SQLite accepts ? directly.
func rebind(dialect, query string) string {
	if dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
