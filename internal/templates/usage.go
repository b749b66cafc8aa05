package templates

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a render attempt ended
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeVariableMissing Outcome = "variable_missing"
	OutcomeRenderError     Outcome = "render_error"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeNotFound        Outcome = "not_found"
)

// Error messages in usage logs are capped so a pathological failure cannot
// bloat the log table.
const maxErrorMessageLength = 500

// UsageLog is one append-only record per render attempt, success or failure.
// The template identity and version are captured at render time so analytics
// survive later republishing.
type UsageLog struct {
	ID              uuid.UUID `json:"id"`
	TemplateID      uuid.UUID `json:"template_id"`
	TemplateCode    string    `json:"template_code"`
	TemplateVersion int       `json:"template_version"`
	TemplateType    Type      `json:"template_type"`
	Language        string    `json:"language"`

	OrganizationID string `json:"organization_id"`
	NotificationID string `json:"notification_id"`

	RenderedAt time.Time     `json:"rendered_at"`
	RenderTime time.Duration `json:"render_time"`
	Outcome    Outcome       `json:"result"`

	ErrorMessage     string   `json:"error_message,omitempty"`
	VariablesUsed    []string `json:"variables_used"`
	VariablesMissing []string `json:"variables_missing,omitempty"`
}

// Sink receives usage log entries. Sink failures must never fail a render;
// the renderer logs and swallows them.
type Sink interface {
	Record(ctx context.Context, entry *UsageLog) error
}

// UsageCounter updates a template's running usage statistics against the
// authoritative store (never the cache).
type UsageCounter interface {
	IncrementUsage(ctx context.Context, templateID uuid.UUID, renderTime time.Duration) error
}

// NopSink discards entries. Useful for tests and warm-up renders.
type NopSink struct{}

func (NopSink) Record(context.Context, *UsageLog) error { return nil }

func truncateError(msg string) string {
	if len(msg) > maxErrorMessageLength {
		return msg[:maxErrorMessageLength]
	}
	return msg
}
