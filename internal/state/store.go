package state

import "context"

// Store persists small bits of bridge state across restarts: the local
// order-id seed and the last subscription set.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// NextSeq atomically increments and returns the named counter.
	// Counters start at 1.
	NextSeq(ctx context.Context, name string) (int64, error)
	Close() error
}
