// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/piggybank/migrations"
)

// goose keeps dialect and base FS in package state.
var mu sync.Mutex

// Up runs all pending Postgres migrations from the embedded filesystem.
func Up(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	return UpDB(ctx, db, "postgres")
}

// UpDB runs pending migrations for dialect ("postgres" or "sqlite3") on an open handle.
func UpDB(ctx context.Context, db *sql.DB, dialect string) error {
	var dir string
	switch dialect {
	case "postgres":
		dir = "postgres"
	case "sqlite3":
		dir = "sqlite"
	default:
		return fmt.Errorf("migrate: unsupported dialect %q", dialect)
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, dir)
}
