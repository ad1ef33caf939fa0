package store

import (
	"context"
	"errors"
)

// Stores is the top-level container for the storage backends.
type Stores struct {
	ChatConfig ChatConfigStore

	// Backend names the engine ("postgres", "sqlite", "memory").
	Backend string

	ping  func(ctx context.Context) error
	close func() error
}

// NewStores assembles a container. ping and closeFn may be nil.
func NewStores(backend string, cc ChatConfigStore, ping func(ctx context.Context) error, closeFn func() error) *Stores {
	return &Stores{ChatConfig: cc, Backend: backend, ping: ping, close: closeFn}
}

// Ping checks the underlying connection.
func (s *Stores) Ping(ctx context.Context) error {
	if s == nil || s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the underlying connection.
func (s *Stores) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// ErrInvalidKey is returned for empty or oversized setting keys.
var ErrInvalidKey = errors.New("store: invalid setting key")

// MaxKeyLen bounds setting key length across backends.
const MaxKeyLen = 128

// ValidateKey checks a setting key.
func ValidateKey(key string) error {
	if key == "" || len(key) > MaxKeyLen {
		return ErrInvalidKey
	}
	return nil
}
