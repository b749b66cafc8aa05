package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalboi0/Template-man/internal/cache"
	"github.com/digitalboi0/Template-man/internal/circuitbreaker"
	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
	"github.com/digitalboi0/Template-man/internal/common/pagination"
	"github.com/digitalboi0/Template-man/internal/common/utils"
	"github.com/digitalboi0/Template-man/internal/config"
	"github.com/digitalboi0/Template-man/internal/redis"
	"github.com/digitalboi0/Template-man/internal/storage"
	"github.com/digitalboi0/Template-man/internal/templates"
)

// memoryStore is a minimal in-memory Storage with real lifecycle
// semantics, enough to drive the handlers end to end.
type memoryStore struct {
	mu        sync.Mutex
	records   []*templates.Template
	usageLogs []*templates.UsageLog
}

func newMemoryStore() *memoryStore { return &memoryStore{} }

func (s *memoryStore) Connect(storage.StorageConfig) error { return nil }
func (s *memoryStore) Close() error                        { return nil }
func (s *memoryStore) Health() error                       { return nil }

func (s *memoryStore) GetActiveTemplate(_ context.Context, org, code, language string) (*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lang := range []string{language, templates.DefaultLanguage} {
		for _, tmpl := range s.records {
			if tmpl.OrganizationID == org && tmpl.Code == code && tmpl.Language == lang &&
				tmpl.Status == templates.StatusActive && tmpl.IsDefault {
				return tmpl, nil
			}
		}
	}
	return nil, apperrors.NotFoundError("template")
}

func (s *memoryStore) GetTemplate(_ context.Context, id uuid.UUID) (*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tmpl := range s.records {
		if tmpl.ID == id {
			return tmpl, nil
		}
	}
	return nil, apperrors.NotFoundError("template")
}

func (s *memoryStore) ListActiveTemplates(_ context.Context, org string) ([]*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*templates.Template
	for _, tmpl := range s.records {
		if tmpl.OrganizationID == org && tmpl.Status == templates.StatusActive && tmpl.IsDefault {
			result = append(result, tmpl)
		}
	}
	return result, nil
}

func (s *memoryStore) ListAllActiveTemplates(context.Context) ([]*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*templates.Template
	for _, tmpl := range s.records {
		if tmpl.Status == templates.StatusActive && tmpl.IsDefault {
			result = append(result, tmpl)
		}
	}
	return result, nil
}

func (s *memoryStore) ListTemplatesByType(ctx context.Context, org string, templateType templates.Type) ([]*templates.Template, error) {
	active, _ := s.ListActiveTemplates(ctx, org)
	var result []*templates.Template
	for _, tmpl := range active {
		if tmpl.Type == templateType {
			result = append(result, tmpl)
		}
	}
	return result, nil
}

func (s *memoryStore) ListTemplatesByTag(ctx context.Context, org, tag string) ([]*templates.Template, error) {
	active, _ := s.ListActiveTemplates(ctx, org)
	var result []*templates.Template
	for _, tmpl := range active {
		for _, have := range tmpl.Tags {
			if have == tag {
				result = append(result, tmpl)
				break
			}
		}
	}
	return result, nil
}

func (s *memoryStore) ListTopUsedTemplates(ctx context.Context, org string, limit int) ([]*templates.Template, error) {
	all, _ := s.ListAllActiveTemplates(ctx)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *memoryStore) CreateTemplate(_ context.Context, tmpl *templates.Template) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := 0
	for _, existing := range s.records {
		if existing.OrganizationID == tmpl.OrganizationID && existing.Code == tmpl.Code &&
			existing.Language == tmpl.Language && existing.Version > version {
			version = existing.Version
		}
	}

	tmpl.ID = uuid.New()
	tmpl.Version = version + 1
	tmpl.Status = templates.StatusDraft
	tmpl.IsDefault = false
	tmpl.CreatedAt = time.Now().UTC()
	s.records = append(s.records, tmpl)
	return nil
}

func (s *memoryStore) ActivateTemplate(_ context.Context, id uuid.UUID) (*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *templates.Template
	for _, tmpl := range s.records {
		if tmpl.ID == id {
			target = tmpl
			break
		}
	}
	if target == nil {
		return nil, apperrors.NotFoundError("template")
	}

	for _, tmpl := range s.records {
		if tmpl.ID != id && tmpl.OrganizationID == target.OrganizationID &&
			tmpl.Code == target.Code && tmpl.Language == target.Language {
			tmpl.IsDefault = false
		}
	}

	now := time.Now().UTC()
	target.Status = templates.StatusActive
	target.IsDefault = true
	target.PublishedAt = &now
	return target, nil
}

func (s *memoryStore) ArchiveTemplate(_ context.Context, id uuid.UUID) (*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *templates.Template
	for _, tmpl := range s.records {
		if tmpl.ID == id {
			target = tmpl
			break
		}
	}
	if target == nil {
		return nil, apperrors.NotFoundError("template")
	}

	if target.Status == templates.StatusActive && target.IsDefault {
		others := 0
		for _, tmpl := range s.records {
			if tmpl.ID != id && tmpl.OrganizationID == target.OrganizationID &&
				tmpl.Code == target.Code && tmpl.Language == target.Language &&
				tmpl.Status == templates.StatusActive {
				others++
			}
		}
		if others == 0 {
			return nil, apperrors.ValidationError("cannot archive the only active version of a default template")
		}
	}

	now := time.Now().UTC()
	target.Status = templates.StatusArchived
	target.DeactivatedAt = &now
	return target, nil
}

func (s *memoryStore) IncrementUsage(_ context.Context, id uuid.UUID, renderTime time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tmpl := range s.records {
		if tmpl.ID == id {
			tmpl.UsageCount++
			return nil
		}
	}
	return apperrors.NotFoundError("template")
}

func (s *memoryStore) CreateUsageLog(_ context.Context, entry *templates.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageLogs = append(s.usageLogs, entry)
	return nil
}

func (s *memoryStore) PurgeUsageLogs(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *memoryStore) GetUsageStats(_ context.Context, org, code string, since time.Time) (*storage.UsageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &storage.UsageStats{ByOutcome: make(map[string]int64), Since: since}
	for _, entry := range s.usageLogs {
		if entry.OrganizationID != org || (code != "" && entry.TemplateCode != code) {
			continue
		}
		stats.TotalRenders++
		stats.ByOutcome[string(entry.Outcome)]++
		if entry.Outcome == templates.OutcomeSuccess {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
	}
	return stats, nil
}

type testEnv struct {
	store    *memoryStore
	router   *mux.Router
	versions *cache.VersionCounter
}

func setupTestEnv(t *testing.T, seed ...*templates.Template) *testEnv {
	t.Helper()

	store := newMemoryStore()
	for _, tmpl := range seed {
		seedActive(store, tmpl)
	}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{
		Address:       mr.Addr(),
		PoolSize:      10,
		SocketTimeout: 500 * time.Millisecond,
		Retry: utils.RetryConfig{
			MaxAttempts:   2,
			InitialDelay:  time.Millisecond,
			MaxDelay:      5 * time.Millisecond,
			BackoffFactor: 2.0,
		},
		Breaker: circuitbreaker.Config{
			MaxFailures:           3,
			Timeout:               50 * time.Millisecond,
			MaxConcurrentRequests: 1,
			SuccessThreshold:      1,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	versions := cache.NewVersionCounter(client, "templates")
	aside := cache.NewScopedCacheAside(client, store, nil)

	mirror, err := cache.NewMirrorCache(context.Background(), store, versions, cache.MirrorConfig{})
	require.NoError(t, err)

	renderer := templates.NewRenderer(&templates.RendererConfig{
		Timeout: time.Second,
		Sink:    storage.NewUsageSink(store),
		Usage:   store,
	})

	cfg := config.Load()

	h := New(store, aside, mirror, versions, renderer, client, cfg)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	return &testEnv{store: store, router: router, versions: versions}
}

// seedActive inserts a template directly as the active default
func seedActive(store *memoryStore, tmpl *templates.Template) {
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	if tmpl.Version == 0 {
		tmpl.Version = 1
	}
	tmpl.Status = templates.StatusActive
	tmpl.IsDefault = true
	store.records = append(store.records, tmpl)
}

func emailTemplate(org, code, language string) *templates.Template {
	return &templates.Template{
		OrganizationID: org,
		Code:           code,
		Name:           "Test " + code,
		Type:           templates.TypeEmail,
		Subject:        "Hello {{name}}",
		Content:        "Welcome, {{name}}!",
		Language:       language,
		Tags:           []string{"onboarding"},
		CreatedAt:      time.Now().UTC(),
	}
}

func (e *testEnv) do(t *testing.T, method, path, org string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if org != "" {
		req.Header.Set(organizationHeader, org)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestGetTemplate(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	rec := env.do(t, "GET", "/api/templates/welcome", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tmpl templates.Template
	decodeBody(t, rec, &tmpl)
	assert.Equal(t, "welcome", tmpl.Code)
	assert.Equal(t, "en", tmpl.Language)
}

func TestGetTemplate_LanguageFallback(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	rec := env.do(t, "GET", "/api/templates/welcome?language=fr", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tmpl templates.Template
	decodeBody(t, rec, &tmpl)
	assert.Equal(t, "en", tmpl.Language)
}

func TestGetTemplate_NotFound(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, "GET", "/api/templates/missing", "org-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "not_found", resp.Error)
}

func TestGetTemplate_OrganizationRequired(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	rec := env.do(t, "GET", "/api/templates/welcome", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTemplate_TenantIsolation(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	rec := env.do(t, "GET", "/api/templates/welcome", "org-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTemplates(t *testing.T) {
	env := setupTestEnv(t,
		emailTemplate("org-1", "welcome", "en"),
		emailTemplate("org-1", "receipt", "en"),
		emailTemplate("org-2", "welcome", "en"),
	)

	rec := env.do(t, "GET", "/api/templates", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page pagination.Response[*templates.Template]
	decodeBody(t, rec, &page)
	assert.Equal(t, 2, page.TotalResults)
	assert.Len(t, page.Results, 2)
}

func TestListTemplates_Pagination(t *testing.T) {
	env := setupTestEnv(t,
		emailTemplate("org-1", "alpha", "en"),
		emailTemplate("org-1", "beta", "en"),
		emailTemplate("org-1", "gamma", "en"),
	)

	rec := env.do(t, "GET", "/api/templates?page=2&per_page=2", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page pagination.Response[*templates.Template]
	decodeBody(t, rec, &page)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.TotalResults)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "gamma", page.Results[0].Code)
}

func TestListTemplatesByType(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	rec := env.do(t, "GET", "/api/templates/by-type/email", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []*templates.Template
	decodeBody(t, rec, &list)
	assert.Len(t, list, 1)

	rec = env.do(t, "GET", "/api/templates/by-type/bogus", "org-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTemplatesByTag(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	rec := env.do(t, "GET", "/api/templates/by-tag/onboarding", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []*templates.Template
	decodeBody(t, rec, &list)
	assert.Len(t, list, 1)

	rec = env.do(t, "GET", "/api/templates/by-tag/unknown", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	assert.Empty(t, list)
}

func TestRenderTemplate(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	rec := env.do(t, "POST", "/api/templates/welcome/render", "org-1", RenderRequest{
		Variables: map[string]interface{}{"name": "Ada"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RenderResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Hello Ada", resp.Subject)
	assert.Equal(t, "Welcome, Ada!", resp.Content)
	assert.Equal(t, "welcome", resp.TemplateCode)
	assert.Equal(t, 1, resp.TemplateVersion)
}

func TestRenderTemplate_MissingVariables(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	rec := env.do(t, "POST", "/api/templates/welcome/render", "org-1", RenderRequest{
		Variables: map[string]interface{}{},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "variable_missing", resp.Error)
	assert.Contains(t, fmt.Sprint(resp.Context["variables_missing"]), "name")
}

func TestRenderTemplate_RecordsUsage(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	rec := env.do(t, "POST", "/api/templates/welcome/render", "org-1", RenderRequest{
		Variables: map[string]interface{}{"name": "Ada"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	env.store.mu.Lock()
	logs := len(env.store.usageLogs)
	env.store.mu.Unlock()
	assert.Equal(t, 1, logs)
}

func TestCreateTemplate(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, "POST", "/api/templates", "org-1", map[string]interface{}{
		"code":     "welcome",
		"name":     "Welcome",
		"type":     "email",
		"subject":  "Hi {{name}}",
		"content":  "Hello {{name}}",
		"language": "en",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var tmpl templates.Template
	decodeBody(t, rec, &tmpl)
	assert.Equal(t, 1, tmpl.Version)
	assert.Equal(t, templates.StatusDraft, tmpl.Status)
	assert.Equal(t, "org-1", tmpl.OrganizationID)
	assert.Contains(t, tmpl.Variables, "name")
}

func TestCreateTemplate_HeaderOverridesBodyOrganization(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, "POST", "/api/templates", "org-1", map[string]interface{}{
		"organization_id": "org-2",
		"code":            "welcome",
		"name":            "Welcome",
		"type":            "email",
		"subject":         "Hi",
		"content":         "Hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var tmpl templates.Template
	decodeBody(t, rec, &tmpl)
	assert.Equal(t, "org-1", tmpl.OrganizationID)
}

func TestCreateTemplate_Invalid(t *testing.T) {
	env := setupTestEnv(t)

	// Email templates require a subject
	rec := env.do(t, "POST", "/api/templates", "org-1", map[string]interface{}{
		"code":    "welcome",
		"name":    "Welcome",
		"type":    "email",
		"content": "Hello",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishTemplate_InvalidatesCaches(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	// Warm the mirror with the current default
	rec := env.do(t, "GET", "/api/templates/welcome", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Materialize the counter so the publish bump is observable below
	_, err := env.versions.Bump(context.Background())
	require.NoError(t, err)

	before, err := env.versions.Current(context.Background())
	require.NoError(t, err)

	// Draft a replacement and publish it
	rec = env.do(t, "POST", "/api/templates", "org-1", map[string]interface{}{
		"code":     "welcome",
		"name":     "Welcome v2",
		"type":     "email",
		"subject":  "Hi {{name}}",
		"content":  "Updated {{name}}",
		"language": "en",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var draft templates.Template
	decodeBody(t, rec, &draft)
	assert.Equal(t, 2, draft.Version)

	rec = env.do(t, "POST", "/api/templates/"+draft.ID.String()+"/publish", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	after, err := env.versions.Current(context.Background())
	require.NoError(t, err)
	assert.Greater(t, after, before)

	// The stale entry is gone from both tiers; the next read sees v2
	rec = env.do(t, "GET", "/api/templates/welcome", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tmpl templates.Template
	decodeBody(t, rec, &tmpl)
	assert.Equal(t, 2, tmpl.Version)
	assert.Equal(t, "Updated {{name}}", tmpl.Content)
}

func TestPublishTemplate_UnknownID(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, "POST", "/api/templates/"+uuid.NewString()+"/publish", "org-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "POST", "/api/templates/not-a-uuid/publish", "org-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveTemplate_LastDefaultRejected(t *testing.T) {
	seed := emailTemplate("org-1", "welcome", "en")
	env := setupTestEnv(t, seed)

	rec := env.do(t, "POST", "/api/templates/"+seed.ID.String()+"/archive", "org-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "validation", resp.Error)
}

func TestGetUsageStats(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	rec := env.do(t, "POST", "/api/templates/welcome/render", "org-1", RenderRequest{
		Variables: map[string]interface{}{"name": "Ada"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/api/stats/usage?code=welcome", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats storage.UsageStats
	decodeBody(t, rec, &stats)
	assert.Equal(t, int64(1), stats.TotalRenders)
	assert.Equal(t, int64(1), stats.SuccessCount)

	rec = env.do(t, "GET", "/api/stats/usage", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "GET", "/api/stats/usage?since=yesterday", "org-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCacheStats(t *testing.T) {
	env := setupTestEnv(t, emailTemplate("org-1", "welcome", "en"))

	rec := env.do(t, "GET", "/api/stats/cache", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats cache.MirrorStats
	decodeBody(t, rec, &stats)
	assert.Equal(t, 1, stats.TemplateCount)
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Contains(t, resp.Checks, "database")
	assert.Contains(t, resp.Checks, "cache_store")
	assert.Contains(t, resp.Checks, "mirror")
}
