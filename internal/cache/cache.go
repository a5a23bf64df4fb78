package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort key/value cache. A miss or an error never
// replaces a read from the store.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
