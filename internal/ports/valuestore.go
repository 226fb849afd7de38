package ports

import (
	"context"
	"time"
)

// ValueStore is the second-level cache shared by every gateway instance.
// Values are opaque encoded responses.
type ValueStore interface {
	// Get MUST return types.ErrNotFound when key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and returns how many went.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}
