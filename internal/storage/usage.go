package storage

import (
	"context"

	"github.com/digitalboi0/Template-man/internal/templates"
)

// UsageSink adapts a Storage into the renderer's usage-log sink
type UsageSink struct {
	store Storage
}

func NewUsageSink(store Storage) *UsageSink {
	return &UsageSink{store: store}
}

func (s *UsageSink) Record(ctx context.Context, entry *templates.UsageLog) error {
	return s.store.CreateUsageLog(ctx, entry)
}
