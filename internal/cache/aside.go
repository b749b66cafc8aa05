package cache

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
	"github.com/digitalboi0/Template-man/internal/common/logging"
	"github.com/digitalboi0/Template-man/internal/redis"
	"github.com/digitalboi0/Template-man/internal/storage"
	"github.com/digitalboi0/Template-man/internal/templates"
)

// AsideConfig configures the cache-aside layer
type AsideConfig struct {
	// TTL bounds staleness of per-key entries (default 300s)
	TTL time.Duration
}

// ScopedCacheAside is the per-key, TTL-bounded cache tier. Every key is
// scoped by organization; a missing organization id is rejected rather
// than scanned across tenants. Cache failures degrade to a direct
// authoritative-store read and are never user-visible.
type ScopedCacheAside struct {
	store  *redis.Client
	source storage.Storage
	ttl    time.Duration
	logger logging.Logger
}

func NewScopedCacheAside(store *redis.Client, source storage.Storage, config *AsideConfig) *ScopedCacheAside {
	ttl := 300 * time.Second
	if config != nil && config.TTL > 0 {
		ttl = config.TTL
	}

	return &ScopedCacheAside{
		store:  store,
		source: source,
		ttl:    ttl,
		logger: logging.GetGlobalLogger(),
	}
}

func asideKey(organizationID, code, language string) string {
	return fmt.Sprintf("template:%s:%s:%s", organizationID, code, language)
}

// Get resolves (organization, code, language) cache-first. A hit is
// deserialized and returned without extending its TTL; a miss, a store
// failure, or a corrupt snapshot falls through to the authoritative store
// and, when found, repopulates the entry best-effort. Absence is never
// cached, so a template published moments later is visible immediately.
func (c *ScopedCacheAside) Get(ctx context.Context, organizationID, code, language string) (*templates.Template, error) {
	if organizationID == "" {
		return nil, apperrors.ValidationError("organization_id is required")
	}

	if language == "" {
		language = templates.DefaultLanguage
	}

	key := asideKey(organizationID, code, language)

	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Debug("cache read failed, falling back to store",
			logging.String("key", key),
			logging.Err(err),
		)
	} else if found {
		tmpl, decodeErr := DecodeSnapshot([]byte(value))
		if decodeErr == nil {
			return tmpl, nil
		}

		c.logger.Warn("discarding corrupt cache snapshot",
			logging.String("key", key),
			logging.Err(decodeErr),
		)
	}

	tmpl, err := c.source.GetActiveTemplate(ctx, organizationID, code, language)
	if err != nil {
		return nil, err
	}

	c.populate(ctx, key, tmpl)

	return tmpl, nil
}

// Invalidate deletes the specific key. Publish and archive operations
// call this synchronously before returning success, so a subsequent read
// cannot observe a stale default.
func (c *ScopedCacheAside) Invalidate(ctx context.Context, organizationID, code, language string) error {
	if organizationID == "" {
		return apperrors.ValidationError("organization_id is required")
	}

	if language == "" {
		language = templates.DefaultLanguage
	}

	return c.store.Delete(ctx, asideKey(organizationID, code, language))
}

// populate writes a snapshot with TTL, ignoring failures. Cache writes
// are best-effort.
func (c *ScopedCacheAside) populate(ctx context.Context, key string, tmpl *templates.Template) {
	snapshot, err := EncodeSnapshot(tmpl)
	if err != nil {
		c.logger.Warn("failed to encode template snapshot",
			logging.String("key", key),
			logging.Err(err),
		)
		return
	}

	if err := c.store.Set(ctx, key, snapshot, c.ttl); err != nil {
		c.logger.Debug("failed to populate cache",
			logging.String("key", key),
			logging.Err(err),
		)
	}
}
