package storage

import "strconv"

type dialect struct {
	name       string
	migrations string
	numbered   bool // $1, $2 placeholders instead of ?
}

var (
	sqliteDialect   = dialect{name: "sqlite", migrations: "sqlite.sql"}
	postgresDialect = dialect{name: "postgres", migrations: "postgres.sql", numbered: true}
)

// placeholder returns the n-th (1-based) bind marker.
func (d dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}
