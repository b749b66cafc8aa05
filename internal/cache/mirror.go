package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
	"github.com/digitalboi0/Template-man/internal/common/logging"
	"github.com/digitalboi0/Template-man/internal/storage"
	"github.com/digitalboi0/Template-man/internal/templates"
)

// MirrorConfig configures the in-process mirror tier
type MirrorConfig struct {
	// SyncInterval is how often the background worker polls the version
	// counter (default 60s)
	SyncInterval time.Duration

	// MemoryLimitBytes caps the estimated footprint of the mirrored set;
	// exceeding it evicts the least-recently-used fraction (default 100MB)
	MemoryLimitBytes int64

	// WarmupCount pre-renders this many top-used templates after the
	// initial load; 0 disables warm-up
	WarmupCount int
}

// evictKeepFraction is the share of records retained (by last_used_at
// descending) when the memory limit is exceeded.
const evictKeepFraction = 0.80

// indexSet holds the three derived indexes over one record set. A set is
// built fully off to the side and swapped in as a unit, so readers
// observe either the pre-swap or post-swap indexes in full.
type indexSet struct {
	byKey  map[string]*templates.Template
	byType map[string][]*templates.Template
	byTag  map[string][]*templates.Template
	bytes  int64
}

func newIndexSet() *indexSet {
	return &indexSet{
		byKey:  make(map[string]*templates.Template),
		byType: make(map[string][]*templates.Template),
		byTag:  make(map[string][]*templates.Template),
	}
}

// MirrorCache keeps a full in-process copy of every active default
// template, kept consistent with the authoritative store through the
// shared version counter. Reads never touch the network on the happy
// path; a miss self-heals from the store between full reloads.
type MirrorCache struct {
	source   storage.Storage
	versions *VersionCounter
	config   MirrorConfig
	logger   logging.Logger

	// mu guards the index set and the sync bookkeeping below
	mu  sync.RWMutex
	idx *indexSet

	version   int64
	lastSync  time.Time
	reloads   int64
	evictions int64

	// syncMu serializes full reloads; a reload in progress makes
	// concurrent reload attempts no-ops
	syncMu    sync.Mutex
	startedAt time.Time
}

// MirrorStats is a point-in-time snapshot for health reporting
type MirrorStats struct {
	TemplateCount     int            `json:"template_count"`
	ByType            map[string]int `json:"by_type"`
	ByTag             map[string]int `json:"by_tag"`
	Version           int64          `json:"version"`
	LastSyncAt        time.Time      `json:"last_sync_at"`
	Reloads           int64          `json:"reloads"`
	Evictions         int64          `json:"evictions"`
	ApproxMemoryBytes int64          `json:"approx_memory_bytes"`
	UptimeSeconds     float64        `json:"uptime_seconds"`
}

// NewMirrorCache builds the mirror and performs the initial bulk load
func NewMirrorCache(ctx context.Context, source storage.Storage, versions *VersionCounter, config MirrorConfig) (*MirrorCache, error) {
	if config.SyncInterval <= 0 {
		config.SyncInterval = 60 * time.Second
	}
	if config.MemoryLimitBytes <= 0 {
		config.MemoryLimitBytes = 100 * 1024 * 1024
	}

	m := &MirrorCache{
		source:    source,
		versions:  versions,
		config:    config,
		logger:    logging.GetGlobalLogger(),
		idx:       newIndexSet(),
		startedAt: time.Now(),
	}

	if err := m.SyncFromSource(ctx, true); err != nil {
		return nil, err
	}

	if config.WarmupCount > 0 {
		m.warmup(ctx)
	}

	return m, nil
}

// Run is the background refresh loop; it exits when ctx is cancelled.
// Reload failures are logged and retried on the next interval.
func (m *MirrorCache) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.SyncFromSource(ctx, false); err != nil {
				m.logger.Warn("mirror sync failed, will retry next interval",
					logging.Err(err),
				)
			}
		}
	}
}

// SyncFromSource reloads the mirror when the version counter has moved
// (or unconditionally when force is set). A concurrent reload makes this
// call a no-op.
func (m *MirrorCache) SyncFromSource(ctx context.Context, force bool) error {
	if !m.syncMu.TryLock() {
		return nil
	}
	defer m.syncMu.Unlock()

	current, err := m.versions.Current(ctx)
	if err != nil {
		if !force {
			m.enforceMemoryLimit()
			return err
		}
		// Counter unreachable during a forced load: proceed and converge
		// on a later cycle.
		m.logger.Warn("version counter unreachable during forced sync", logging.Err(err))
		current = m.observedVersion()
	}

	// Self-heal inserts grow the set between reloads, so the footprint is
	// checked every cycle even when the version is unchanged.
	if !force && current == m.observedVersion() {
		m.enforceMemoryLimit()
		return nil
	}

	records, err := m.source.ListAllActiveTemplates(ctx)
	if err != nil {
		return err
	}

	idx := buildIndexSet(records)
	idx, evicted := m.applyMemoryPolicy(idx)

	m.mu.Lock()
	m.idx = idx
	m.version = current
	m.lastSync = time.Now()
	m.reloads++
	m.evictions += evicted
	m.mu.Unlock()

	m.logger.Info("mirror cache synced",
		logging.Int("templates", len(idx.byKey)),
		logging.Int64("version", current),
		logging.Int64("approx_bytes", idx.bytes),
	)

	return nil
}

func (m *MirrorCache) observedVersion() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func mirrorKey(organizationID, code, language string) string {
	return organizationID + ":" + code + ":" + language
}

func typeKey(organizationID string, templateType templates.Type) string {
	return organizationID + ":" + string(templateType)
}

func tagKey(organizationID, tag string) string {
	return organizationID + ":" + tag
}

// GetByCode resolves a single template, trying the requested language,
// then English, then a self-healing authoritative-store lookup inserted
// back into the indexes.
func (m *MirrorCache) GetByCode(ctx context.Context, organizationID, code, language string) (*templates.Template, error) {
	if organizationID == "" {
		return nil, apperrors.ValidationError("organization_id is required")
	}

	if language == "" {
		language = templates.DefaultLanguage
	}

	m.mu.RLock()
	tmpl, ok := m.idx.byKey[mirrorKey(organizationID, code, language)]
	if !ok && language != templates.DefaultLanguage {
		tmpl, ok = m.idx.byKey[mirrorKey(organizationID, code, templates.DefaultLanguage)]
	}
	m.mu.RUnlock()

	if ok {
		return tmpl, nil
	}

	// Miss: fall back to the store for this one record and self-heal
	tmpl, err := m.source.GetActiveTemplate(ctx, organizationID, code, language)
	if err != nil {
		return nil, err
	}

	m.insert(tmpl)

	return tmpl, nil
}

// GetByType lists an organization's active defaults of one channel type
func (m *MirrorCache) GetByType(organizationID string, templateType templates.Type) ([]*templates.Template, error) {
	if organizationID == "" {
		return nil, apperrors.ValidationError("organization_id is required")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyRecords(m.idx.byType[typeKey(organizationID, templateType)]), nil
}

// GetByTag lists an organization's active defaults carrying a tag
func (m *MirrorCache) GetByTag(organizationID, tag string) ([]*templates.Template, error) {
	if organizationID == "" {
		return nil, apperrors.ValidationError("organization_id is required")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyRecords(m.idx.byTag[tagKey(organizationID, tag)]), nil
}

// GetAll lists every mirrored record for one organization
func (m *MirrorCache) GetAll(organizationID string) ([]*templates.Template, error) {
	if organizationID == "" {
		return nil, apperrors.ValidationError("organization_id is required")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*templates.Template
	for _, tmpl := range m.idx.byKey {
		if tmpl.OrganizationID == organizationID {
			result = append(result, tmpl)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Code != result[j].Code {
			return result[i].Code < result[j].Code
		}
		return result[i].Language < result[j].Language
	})

	return result, nil
}

// Invalidate drops one entry from all three indexes. The next lookup for
// it self-heals from the authoritative store.
func (m *MirrorCache) Invalidate(organizationID, code, language string) {
	if language == "" {
		language = templates.DefaultLanguage
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := mirrorKey(organizationID, code, language)
	tmpl, ok := m.idx.byKey[key]
	if !ok {
		return
	}

	delete(m.idx.byKey, key)
	m.idx.bytes -= estimateSize(tmpl)
	m.removeFromSlicesLocked(tmpl)
}

// Stats reports the mirror's health snapshot
func (m *MirrorCache) Stats() *MirrorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &MirrorStats{
		TemplateCount:     len(m.idx.byKey),
		ByType:            make(map[string]int, len(m.idx.byType)),
		ByTag:             make(map[string]int, len(m.idx.byTag)),
		Version:           m.version,
		LastSyncAt:        m.lastSync,
		Reloads:           m.reloads,
		Evictions:         m.evictions,
		ApproxMemoryBytes: m.idx.bytes,
		UptimeSeconds:     time.Since(m.startedAt).Seconds(),
	}

	for key, records := range m.idx.byType {
		stats.ByType[key] = len(records)
	}
	for key, records := range m.idx.byTag {
		stats.ByTag[key] = len(records)
	}

	return stats
}

// insert adds or replaces one record in all three indexes (self-heal path)
func (m *MirrorCache) insert(tmpl *templates.Template) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mirrorKey(tmpl.OrganizationID, tmpl.Code, tmpl.Language)
	if old, ok := m.idx.byKey[key]; ok {
		m.idx.bytes -= estimateSize(old)
		m.removeFromSlicesLocked(old)
	}

	m.idx.byKey[key] = tmpl
	m.idx.bytes += estimateSize(tmpl)

	tk := typeKey(tmpl.OrganizationID, tmpl.Type)
	m.idx.byType[tk] = append(m.idx.byType[tk], tmpl)
	for _, tag := range tmpl.Tags {
		gk := tagKey(tmpl.OrganizationID, tag)
		m.idx.byTag[gk] = append(m.idx.byTag[gk], tmpl)
	}
}

func (m *MirrorCache) removeFromSlicesLocked(tmpl *templates.Template) {
	tk := typeKey(tmpl.OrganizationID, tmpl.Type)
	m.idx.byType[tk] = removeRecord(m.idx.byType[tk], tmpl)
	if len(m.idx.byType[tk]) == 0 {
		delete(m.idx.byType, tk)
	}

	for _, tag := range tmpl.Tags {
		gk := tagKey(tmpl.OrganizationID, tag)
		m.idx.byTag[gk] = removeRecord(m.idx.byTag[gk], tmpl)
		if len(m.idx.byTag[gk]) == 0 {
			delete(m.idx.byTag, gk)
		}
	}
}

// enforceMemoryLimit applies the memory policy to the live index set
// without a reload.
func (m *MirrorCache) enforceMemoryLimit() {
	m.mu.RLock()
	over := m.idx.bytes > m.config.MemoryLimitBytes
	m.mu.RUnlock()
	if !over {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idx.bytes <= m.config.MemoryLimitBytes {
		return
	}

	idx, evicted := m.applyMemoryPolicy(m.idx)
	m.idx = idx
	m.evictions += evicted
}

// applyMemoryPolicy evicts the least-recently-used fraction when the
// estimated footprint exceeds the limit, rebuilding the indexes from the
// retained records. Returns the (possibly rebuilt) set and the eviction
// count.
func (m *MirrorCache) applyMemoryPolicy(idx *indexSet) (*indexSet, int64) {
	if idx.bytes <= m.config.MemoryLimitBytes {
		return idx, 0
	}

	records := make([]*templates.Template, 0, len(idx.byKey))
	for _, tmpl := range idx.byKey {
		records = append(records, tmpl)
	}

	// Most recently used first; never-used records sort last, oldest
	// created first among them.
	sort.Slice(records, func(i, j int) bool {
		li, lj := lastUsed(records[i]), lastUsed(records[j])
		if !li.Equal(lj) {
			return li.After(lj)
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	keep := int(float64(len(records)) * evictKeepFraction)
	if keep < 1 {
		keep = 1
	}

	evicted := int64(len(records) - keep)
	rebuilt := buildIndexSet(records[:keep])

	m.logger.Warn("mirror cache over memory limit, evicted least-recently-used records",
		logging.Int64("evicted", evicted),
		logging.Int64("approx_bytes", rebuilt.bytes),
		logging.Int64("limit_bytes", m.config.MemoryLimitBytes),
	)

	return rebuilt, evicted
}

func lastUsed(tmpl *templates.Template) time.Time {
	if tmpl.LastUsedAt != nil {
		return *tmpl.LastUsedAt
	}
	return time.Time{}
}

// warmup pre-renders a sample of top-used templates with empty bindings,
// discarding output and errors. It only primes regex state and surfaces
// grossly broken templates in the logs.
func (m *MirrorCache) warmup(ctx context.Context) {
	top, err := m.source.ListTopUsedTemplates(ctx, "", m.config.WarmupCount)
	if err != nil {
		m.logger.Warn("mirror warm-up skipped", logging.Err(err))
		return
	}

	for _, tmpl := range top {
		templates.Render(tmpl.Subject, nil, true)
		templates.Render(tmpl.Content, nil, true)
		templates.Render(tmpl.HTMLContent, nil, true)
	}

	m.logger.Info("mirror warm-up complete", logging.Int("templates", len(top)))
}

func buildIndexSet(records []*templates.Template) *indexSet {
	idx := newIndexSet()

	for _, tmpl := range records {
		key := mirrorKey(tmpl.OrganizationID, tmpl.Code, tmpl.Language)
		idx.byKey[key] = tmpl
		idx.bytes += estimateSize(tmpl)

		tk := typeKey(tmpl.OrganizationID, tmpl.Type)
		idx.byType[tk] = append(idx.byType[tk], tmpl)

		for _, tag := range tmpl.Tags {
			gk := tagKey(tmpl.OrganizationID, tag)
			idx.byTag[gk] = append(idx.byTag[gk], tmpl)
		}
	}

	return idx
}

func copyRecords(records []*templates.Template) []*templates.Template {
	if len(records) == 0 {
		return nil
	}
	out := make([]*templates.Template, len(records))
	copy(out, records)
	return out
}

func removeRecord(records []*templates.Template, target *templates.Template) []*templates.Template {
	for i, tmpl := range records {
		if tmpl == target {
			return append(records[:i], records[i+1:]...)
		}
	}
	return records
}

// estimateSize approximates one record's in-memory footprint
func estimateSize(tmpl *templates.Template) int64 {
	size := int64(len(tmpl.Subject) + len(tmpl.Content) + len(tmpl.HTMLContent) +
		len(tmpl.Code) + len(tmpl.Name) + len(tmpl.Description) +
		len(tmpl.OrganizationID) + len(tmpl.Language))

	for _, v := range tmpl.Variables {
		size += int64(len(v))
	}
	for _, v := range tmpl.OptionalVariables {
		size += int64(len(v))
	}
	for _, tag := range tmpl.Tags {
		size += int64(len(tag))
	}

	// Struct overhead, timestamps, map headers
	return size + 256
}
