package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/master-pd/bot-master/internal/store"
)

// PGChatConfigStore implements store.ChatConfigStore backed by Postgres.
type PGChatConfigStore struct {
	db *sql.DB
}

func NewPGChatConfigStore(db *sql.DB) *PGChatConfigStore {
	return &PGChatConfigStore{db: db}
}

func (s *PGChatConfigStore) Get(ctx context.Context, chatID int64, key string) (string, bool, error) {
	if err := store.ValidateKey(key); err != nil {
		return "", false, err
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM chat_settings WHERE chat_id = $1 AND key = $2`, chatID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get chat setting %d/%s: %w", chatID, key, err)
	}
	return value, true, nil
}

func (s *PGChatConfigStore) Set(ctx context.Context, chatID int64, key, value string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_settings (chat_id, key, value, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (chat_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		chatID, key, value)
	if err != nil {
		return fmt.Errorf("set chat setting %d/%s: %w", chatID, key, err)
	}
	return nil
}

func (s *PGChatConfigStore) Delete(ctx context.Context, chatID int64, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_settings WHERE chat_id = $1 AND key = $2`, chatID, key); err != nil {
		return fmt.Errorf("delete chat setting %d/%s: %w", chatID, key, err)
	}
	return nil
}

func (s *PGChatConfigStore) List(ctx context.Context, chatID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM chat_settings WHERE chat_id = $1 ORDER BY key`, chatID)
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
