package store

import (
	"context"
	"sort"
	"sync"
)

// ChatConfigStore persists per-chat settings as string key/value pairs.
// Chat id 0 holds bot-wide values. Set and Delete are idempotent.
type ChatConfigStore interface {
	// Get returns the value and whether it exists.
	Get(ctx context.Context, chatID int64, key string) (string, bool, error)
	// Set upserts a value.
	Set(ctx context.Context, chatID int64, key, value string) error
	// Delete removes a value; deleting a missing key is not an error.
	Delete(ctx context.Context, chatID int64, key string) error
	// List returns every setting for a chat.
	List(ctx context.Context, chatID int64) (map[string]string, error)
}

// MemoryChatConfigStore is an in-process ChatConfigStore used when no
// database is configured and in tests.
type MemoryChatConfigStore struct {
	mu   sync.RWMutex
	data map[int64]map[string]string
}

// NewMemoryChatConfigStore creates an empty store.
func NewMemoryChatConfigStore() *MemoryChatConfigStore {
	return &MemoryChatConfigStore{data: make(map[int64]map[string]string)}
}

func (s *MemoryChatConfigStore) Get(_ context.Context, chatID int64, key string) (string, bool, error) {
	if err := ValidateKey(key); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[chatID][key]
	return v, ok, nil
}

func (s *MemoryChatConfigStore) Set(_ context.Context, chatID int64, key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[chatID]
	if !ok {
		m = make(map[string]string)
		s.data[chatID] = m
	}
	m[key] = value
	return nil
}

func (s *MemoryChatConfigStore) Delete(_ context.Context, chatID int64, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[chatID], key)
	return nil
}

func (s *MemoryChatConfigStore) List(_ context.Context, chatID int64) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.data[chatID]))
	for k, v := range s.data[chatID] {
		out[k] = v
	}
	return out, nil
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
