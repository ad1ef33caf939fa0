package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/master-pd/bot-master/internal/store"
	"github.com/master-pd/bot-master/internal/upgrade"
)

// OpenDB opens a pooled Postgres connection through the pgx stdlib driver
// and verifies it.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// NewPGStores creates all stores backed by Postgres. The schema must have
// been applied with `botmaster migrate up`.
func NewPGStores(dsn string) (*store.Stores, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if status := upgrade.CheckSchema(ctx, db); !status.Compatible {
		db.Close()
		return nil, fmt.Errorf("%w\n%s", status.Err(), upgrade.FormatError(status))
	}
	return store.NewStores("postgres", NewPGChatConfigStore(db), db.PingContext, db.Close), nil
}
