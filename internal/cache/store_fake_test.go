package cache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/digitalboi0/Template-man/internal/circuitbreaker"
	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
	"github.com/digitalboi0/Template-man/internal/common/utils"
	"github.com/digitalboi0/Template-man/internal/redis"
	"github.com/digitalboi0/Template-man/internal/storage"
	"github.com/digitalboi0/Template-man/internal/templates"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
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

	return client, mr
}

// fakeStore is an in-memory authoritative store holding active defaults
// keyed by org:code:language
type fakeStore struct {
	mu             sync.Mutex
	byKey          map[string]*templates.Template
	getActiveCalls int
	listAllCalls   int
	failReads      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{byKey: make(map[string]*templates.Template)}
}

func (s *fakeStore) put(tmpl *templates.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	tmpl.Status = templates.StatusActive
	tmpl.IsDefault = true
	s.byKey[tmpl.OrganizationID+":"+tmpl.Code+":"+tmpl.Language] = tmpl
}

func (s *fakeStore) remove(org, code, language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, org+":"+code+":"+language)
}

func (s *fakeStore) activeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getActiveCalls
}

func (s *fakeStore) listCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listAllCalls
}

func (s *fakeStore) Connect(storage.StorageConfig) error { return nil }
func (s *fakeStore) Close() error                        { return nil }
func (s *fakeStore) Health() error                       { return nil }

func (s *fakeStore) GetActiveTemplate(_ context.Context, organizationID, code, language string) (*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getActiveCalls++

	if s.failReads {
		return nil, apperrors.StoreUnavailableError("store down", nil)
	}

	if tmpl, ok := s.byKey[organizationID+":"+code+":"+language]; ok {
		return tmpl, nil
	}
	if language != templates.DefaultLanguage {
		if tmpl, ok := s.byKey[organizationID+":"+code+":"+templates.DefaultLanguage]; ok {
			return tmpl, nil
		}
	}
	return nil, apperrors.NotFoundError("template")
}

func (s *fakeStore) GetTemplate(_ context.Context, id uuid.UUID) (*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tmpl := range s.byKey {
		if tmpl.ID == id {
			return tmpl, nil
		}
	}
	return nil, apperrors.NotFoundError("template")
}

func (s *fakeStore) ListActiveTemplates(_ context.Context, organizationID string) ([]*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*templates.Template
	for _, tmpl := range s.byKey {
		if tmpl.OrganizationID == organizationID {
			result = append(result, tmpl)
		}
	}
	return result, nil
}

func (s *fakeStore) ListAllActiveTemplates(context.Context) ([]*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listAllCalls++

	if s.failReads {
		return nil, apperrors.StoreUnavailableError("store down", nil)
	}

	result := make([]*templates.Template, 0, len(s.byKey))
	for _, tmpl := range s.byKey {
		result = append(result, tmpl)
	}
	return result, nil
}

func (s *fakeStore) ListTemplatesByType(_ context.Context, organizationID string, templateType templates.Type) ([]*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*templates.Template
	for _, tmpl := range s.byKey {
		if tmpl.OrganizationID == organizationID && tmpl.Type == templateType {
			result = append(result, tmpl)
		}
	}
	return result, nil
}

func (s *fakeStore) ListTemplatesByTag(_ context.Context, organizationID, tag string) ([]*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*templates.Template
	for _, tmpl := range s.byKey {
		if tmpl.OrganizationID != organizationID {
			continue
		}
		for _, have := range tmpl.Tags {
			if have == tag {
				result = append(result, tmpl)
				break
			}
		}
	}
	return result, nil
}

func (s *fakeStore) ListTopUsedTemplates(_ context.Context, organizationID string, limit int) ([]*templates.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*templates.Template
	for _, tmpl := range s.byKey {
		if organizationID == "" || tmpl.OrganizationID == organizationID {
			result = append(result, tmpl)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UsageCount > result[j].UsageCount
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *fakeStore) CreateTemplate(_ context.Context, tmpl *templates.Template) error {
	s.put(tmpl)
	return nil
}

func (s *fakeStore) ActivateTemplate(context.Context, uuid.UUID) (*templates.Template, error) {
	return nil, apperrors.NotFoundError("template")
}

func (s *fakeStore) ArchiveTemplate(context.Context, uuid.UUID) (*templates.Template, error) {
	return nil, apperrors.NotFoundError("template")
}

func (s *fakeStore) IncrementUsage(context.Context, uuid.UUID, time.Duration) error { return nil }
func (s *fakeStore) CreateUsageLog(context.Context, *templates.UsageLog) error      { return nil }
func (s *fakeStore) PurgeUsageLogs(context.Context, time.Time) (int64, error)       { return 0, nil }

func (s *fakeStore) GetUsageStats(context.Context, string, string, time.Time) (*storage.UsageStats, error) {
	return &storage.UsageStats{}, nil
}

func activeTemplate(org, code, language string) *templates.Template {
	return &templates.Template{
		ID:             uuid.New(),
		OrganizationID: org,
		Code:           code,
		Name:           "Test " + code,
		Type:           templates.TypeEmail,
		Subject:        "Subject",
		Content:        "Hello {{name}}",
		Language:       language,
		Version:        1,
		IsDefault:      true,
		Status:         templates.StatusActive,
		Tags:           []string{"transactional"},
		CreatedAt:      time.Now().UTC(),
	}
}
