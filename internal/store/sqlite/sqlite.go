// Package sqlite provides the standalone ChatConfigStore on an embedded
// SQLite database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/master-pd/bot-master/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_settings (
	chat_id    INTEGER NOT NULL,
	key        TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (chat_id, key)
);`

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; a single connection also keeps an
	// in-memory database alive across calls.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by SQLite.
func NewStores(path string) (*store.Stores, error) {
	db, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return store.NewStores("sqlite", NewChatConfigStore(db), db.PingContext, db.Close), nil
}

// ChatConfigStore implements store.ChatConfigStore on SQLite.
type ChatConfigStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewChatConfigStore(db *sql.DB) *ChatConfigStore {
	return &ChatConfigStore{db: db, now: time.Now}
}

func (s *ChatConfigStore) Get(ctx context.Context, chatID int64, key string) (string, bool, error) {
	if err := store.ValidateKey(key); err != nil {
		return "", false, err
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM chat_settings WHERE chat_id = ? AND key = ?`, chatID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get chat setting %d/%s: %w", chatID, key, err)
	}
	return value, true, nil
}

func (s *ChatConfigStore) Set(ctx context.Context, chatID int64, key, value string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_settings (chat_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (chat_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		chatID, key, value, s.now().Unix())
	if err != nil {
		return fmt.Errorf("set chat setting %d/%s: %w", chatID, key, err)
	}
	return nil
}

func (s *ChatConfigStore) Delete(ctx context.Context, chatID int64, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_settings WHERE chat_id = ? AND key = ?`, chatID, key); err != nil {
		return fmt.Errorf("delete chat setting %d/%s: %w", chatID, key, err)
	}
	return nil
}

func (s *ChatConfigStore) List(ctx context.Context, chatID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM chat_settings WHERE chat_id = ? ORDER BY key`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list chat settings %d: %w", chatID, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
