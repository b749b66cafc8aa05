package cache

import (
	"context"
	"strconv"

	"github.com/digitalboi0/Template-man/internal/redis"
)

// VersionCounter is the namespace-wide invalidation signal: one integer in
// the shared remote store, bumped on every mutation that should invalidate
// mirrors, polled cheaply by every mirror instance.
type VersionCounter struct {
	store *redis.Client
	key   string
}

func NewVersionCounter(store *redis.Client, namespace string) *VersionCounter {
	if namespace == "" {
		namespace = "templates"
	}
	return &VersionCounter{
		store: store,
		key:   namespace + ":cache:version",
	}
}

// Current returns the counter value. A counter that does not exist yet
// reads as 1, the value a fresh deployment converges to.
func (v *VersionCounter) Current(ctx context.Context) (int64, error) {
	value, found, err := v.store.Get(ctx, v.key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 1, nil
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 1, nil
	}
	return parsed, nil
}

// Bump atomically increments the counter and returns the new value
func (v *VersionCounter) Bump(ctx context.Context) (int64, error) {
	return v.store.Incr(ctx, v.key)
}

// Key exposes the underlying store key (diagnostics)
func (v *VersionCounter) Key() string {
	return v.key
}
