package pgstore

import (
	"github.com/jmoiron/sqlx"

	// registers the "pgx" driver name with database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to Postgres via pgx's database/sql driver and wraps the
// result in the sqlx handle the rest of this package uses.
func Open(dsn string) (*sqlx.DB, error) {
	return sqlx.Open("pgx", dsn)
}
