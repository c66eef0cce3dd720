package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// memoryDSN is a shared-cache in-memory SQLite database.
const memoryDSN = "file:gophsync?mode=memory&cache=shared"

// ParseDSN maps a configured DSN to a driver, its data source and dialect.
//
//	""                       in-memory SQLite
//	"sqlite:<path>"          SQLite file
//	"postgres://..."         PostgreSQL through pgx
func ParseDSN(dsn string) (driver, source string, dialect Dialect) {
	switch {
	case dsn == "":
		return "sqlite", memoryDSN, SQLite
	case strings.HasPrefix(dsn, "sqlite:"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite:"), SQLite
	default:
		return "pgx", dsn, Postgres
	}
}

// Open connects to dsn, pings it and runs migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, RepositoryManager, error) {
	driver, source, dialect := ParseDSN(dsn)

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("db init error: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("db ping error: %w", err)
	}

	m, err := NewSQLRepositoryManager(dialect)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return db, m, nil
}
