package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/digitalboi0/Template-man/internal/templates"
)

// Storage is the contract the cache-and-render core requires of the
// authoritative template store. The store owns the records; caches hold
// copies only and repopulate from here on every miss.
type Storage interface {
	// Connection management
	Connect(config StorageConfig) error
	Close() error
	Health() error

	// Template reads
	//
	// GetActiveTemplate resolves the default active version for
	// (organization, code, language), falling back to English and then to
	// the newest active version of the code in any language. Absence is a
	// NotFound error, never a nil/nil result.
	GetActiveTemplate(ctx context.Context, organizationID, code, language string) (*templates.Template, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*templates.Template, error)
	ListActiveTemplates(ctx context.Context, organizationID string) ([]*templates.Template, error)

	// ListAllActiveTemplates bulk-loads every active default across all
	// organizations (mirror reload path).
	ListAllActiveTemplates(ctx context.Context) ([]*templates.Template, error)
	ListTemplatesByType(ctx context.Context, organizationID string, templateType templates.Type) ([]*templates.Template, error)
	ListTemplatesByTag(ctx context.Context, organizationID, tag string) ([]*templates.Template, error)

	// ListTopUsedTemplates returns active defaults ordered by usage count.
	// An empty organizationID spans all organizations (warm-up path).
	ListTopUsedTemplates(ctx context.Context, organizationID string, limit int) ([]*templates.Template, error)

	// Template lifecycle
	//
	// CreateTemplate inserts a new draft version; the version number is
	// assigned as max(version)+1 for (organization, code, language).
	CreateTemplate(ctx context.Context, tmpl *templates.Template) error

	// ActivateTemplate publishes a version: within one transaction the
	// previous default for (organization, code, language) loses its
	// default flag and this version becomes the active default.
	ActivateTemplate(ctx context.Context, id uuid.UUID) (*templates.Template, error)

	// ArchiveTemplate retires a version. Archiving the only active
	// version of a default is rejected; activate a replacement first.
	ArchiveTemplate(ctx context.Context, id uuid.UUID) (*templates.Template, error)

	// Usage tracking (render path)
	IncrementUsage(ctx context.Context, templateID uuid.UUID, renderTime time.Duration) error
	CreateUsageLog(ctx context.Context, entry *templates.UsageLog) error
	PurgeUsageLogs(ctx context.Context, olderThan time.Time) (int64, error)
	GetUsageStats(ctx context.Context, organizationID, templateCode string, since time.Time) (*UsageStats, error)
}

// StorageConfig abstracts backend-specific connection settings
type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}

// StorageFactory builds a Storage for a registered backend type
type StorageFactory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}

// UsageStats summarizes render outcomes over a window
type UsageStats struct {
	TotalRenders      int64            `json:"total_renders"`
	SuccessCount      int64            `json:"success_count"`
	ErrorCount        int64            `json:"error_count"`
	AverageRenderTime float64          `json:"average_render_time"`
	ByOutcome         map[string]int64 `json:"by_outcome"`
	Since             time.Time        `json:"since"`
}
