package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Open connects to dsn and prepares the schema. URLs with a postgres:// or
// postgresql:// scheme use pgx; anything else is a SQLite path (or ":memory:").
func Open(ctx context.Context, dsn string) (*Store, error) {
	driver, dialect := "sqlite", SQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, dialect = "pgx", Postgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == SQLite {
		// SQLite serializes writers anyway; one connection also keeps
		// ":memory:" databases from splitting across the pool.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach %s database: %w", dialect, err)
	}

	store, err := New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
