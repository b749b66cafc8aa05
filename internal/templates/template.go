package templates

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
	"github.com/digitalboi0/Template-man/internal/common/validation"
)

// Type identifies the delivery channel a template targets
type Type string

const (
	TypeEmail Type = "email"
	TypePush  Type = "push"
	TypeSMS   Type = "sms"
)

// Valid returns true if the type is one of the supported channels
func (t Type) Valid() bool {
	switch t {
	case TypeEmail, TypePush, TypeSMS:
		return true
	}
	return false
}

// Status tracks a template version through its lifecycle
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// DefaultLanguage is the fallback language when a localized template is absent
const DefaultLanguage = "en"

// Template is a versioned, organization-scoped message template.
//
// The authoritative store owns these records; caches hold copies only.
type Template struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Type           Type      `json:"template_type"`

	Subject     string `json:"subject,omitempty"`
	Content     string `json:"content"`
	HTMLContent string `json:"html_content,omitempty"`

	Language  string `json:"language"`
	Version   int    `json:"version"`
	IsDefault bool   `json:"is_default"`
	Status    Status `json:"status"`

	PublishedAt   *time.Time `json:"published_at,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`

	Variables         []string               `json:"variables"`
	OptionalVariables []string               `json:"optional_variables,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Tags              []string               `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UsageCount        int64      `json:"usage_count"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	AverageRenderTime float64    `json:"average_render_time"`
}

// RenderedFields holds the three independently rendered payload fields
type RenderedFields struct {
	Subject     string `json:"subject"`
	Content     string `json:"content"`
	HTMLContent string `json:"html_content"`
}

var variablePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// ExtractVariables scans subject, content, and html_content for {{name}}
// placeholders. Names prefixed with underscore are optional and do not
// fail a render when unbound.
func (t *Template) ExtractVariables() (required, optional []string) {
	seen := make(map[string]bool)

	for _, text := range []string{t.Subject, t.Content, t.HTMLContent} {
		for _, match := range variablePattern.FindAllStringSubmatch(text, -1) {
			name := match[1]
			if seen[name] {
				continue
			}
			seen[name] = true

			if strings.HasPrefix(name, "_") {
				optional = append(optional, name)
			} else {
				required = append(required, name)
			}
		}
	}

	return required, optional
}

// Validate checks the record's structural invariants and refreshes the
// extracted variable lists. It does not touch the store.
func (t *Template) Validate() error {
	v := validation.NewValidator().
		RequireString(t.OrganizationID, "organization_id").
		RequireString(t.Code, "code").
		RequireOneOf(string(t.Type), []string{string(TypeEmail), string(TypePush), string(TypeSMS)}, "template_type").
		ValidateIf(t.Type == TypeEmail && t.Subject == "", func() error {
			return errors.New("email templates must have a subject")
		}).
		ValidateIf(t.Content == "" && t.HTMLContent == "", func() error {
			return errors.New("template must have content or html_content")
		})

	if err := v.Error(); err != nil {
		return apperrors.ValidationError(err.Error())
	}

	if t.Language == "" {
		t.Language = DefaultLanguage
	}

	t.Variables, t.OptionalVariables = t.ExtractVariables()

	return nil
}
