package templates

import (
	"context"
	"fmt"
	"html"
	"reflect"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
	"github.com/digitalboi0/Template-man/internal/common/logging"
	"github.com/digitalboi0/Template-man/internal/common/utils"
)

// Patterns are compiled once; (?s) lets blocks span lines.
var (
	conditionalPattern = regexp.MustCompile(`(?s)\{\{#if (\w+)\}\}(.*?)\{\{/if\}\}`)
	loopPattern        = regexp.MustCompile(`(?s)\{\{#each (\w+)\}\}(.*?)\{\{/each\}\}`)
)

// Render substitutes variables into template text.
//
// The pipeline runs in a fixed order, each stage consuming the previous
// stage's output: conditional blocks, then loop blocks, then plain
// variables. Missing variable names from all three stages are unioned and
// returned alongside the rendered text. Plain variables that are unbound
// stay in the output as literal placeholders so callers can see the gap.
func Render(text string, variables map[string]interface{}, escapeHTML bool) (string, []string) {
	if text == "" {
		return "", nil
	}

	missing := newMissingSet()

	rendered := renderConditionals(text, variables, missing)
	rendered = renderLoops(rendered, variables, escapeHTML, missing)
	rendered = renderVariables(rendered, variables, escapeHTML, missing)

	return rendered, missing.names()
}

// RendererConfig configures the rendering service
type RendererConfig struct {
	// Timeout is the queuing budget: a call that arrives at the renderer
	// with its deadline already spent is abandoned with a timeout error
	// rather than started.
	Timeout time.Duration

	Sink   Sink
	Usage  UsageCounter
	Logger logging.Logger
}

// Renderer renders templates with timing, timeout, and usage-logging
// guarantees. The rendering itself is pure; the usage sink is the only
// side effect.
type Renderer struct {
	timeout time.Duration
	sink    Sink
	usage   UsageCounter
	logger  logging.Logger
	retry   utils.RetryConfig
}

// NewRenderer creates a renderer. A nil sink is replaced with NopSink;
// a nil usage counter disables stats updates.
func NewRenderer(config *RendererConfig) *Renderer {
	if config == nil {
		config = &RendererConfig{}
	}

	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	if config.Sink == nil {
		config.Sink = NopSink{}
	}

	if config.Logger == nil {
		config.Logger = logging.GetGlobalLogger()
	}

	return &Renderer{
		timeout: config.Timeout,
		sink:    config.Sink,
		usage:   config.Usage,
		logger:  config.Logger,
		retry: utils.RetryConfig{
			MaxAttempts:   2,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      500 * time.Millisecond,
			BackoffFactor: 2.0,
			RetryableErrors: func(err error) bool {
				return apperrors.IsType(err, apperrors.ErrTypeRenderTimeout)
			},
		},
	}
}

// RenderTemplate renders subject, content, and html_content independently
// and returns them with the elapsed render time.
//
// Only timeouts are retried here, with short backoff; variable and
// rendering errors surface immediately. Every attempt emits one usage-log
// entry, and a successful attempt bumps the template's usage counters
// against the authoritative store.
func (r *Renderer) RenderTemplate(ctx context.Context, tmpl *Template, variables map[string]interface{}, notificationID, organizationID string) (*RenderedFields, time.Duration, error) {
	if tmpl == nil {
		return nil, 0, apperrors.ValidationError("template is required")
	}

	var fields *RenderedFields
	var elapsed time.Duration

	// The backoff runs detached from the caller's context: each attempt
	// re-checks the caller's deadline itself, and a budget that is already
	// spent still owes the retry attempt and its usage-log entry.
	err := utils.RetryWithBackoff(context.Background(), r.retry, func() error {
		var attemptErr error
		fields, elapsed, attemptErr = r.renderOnce(ctx, tmpl, variables, notificationID, organizationID)
		return attemptErr
	})
	if err != nil {
		r.logger.Error("template render failed", err,
			logging.String("template_code", tmpl.Code),
			logging.String("organization_id", organizationID),
			logging.String("notification_id", notificationID),
			logging.Duration("render_time", elapsed),
		)

		if appErr, ok := apperrors.AsAppError(err); ok {
			return nil, elapsed, appErr
		}
		return nil, elapsed, apperrors.RenderError("template rendering failed", err)
	}

	return fields, elapsed, nil
}

func (r *Renderer) renderOnce(ctx context.Context, tmpl *Template, variables map[string]interface{}, notificationID, organizationID string) (*RenderedFields, time.Duration, error) {
	start := time.Now()

	// The budget guards queuing delay only; rendering is not preempted
	// mid-expression.
	if err := r.checkBudget(ctx); err != nil {
		elapsed := time.Since(start)
		r.logAttempt(tmpl, notificationID, organizationID, elapsed, variables, nil, err)
		return nil, elapsed, err
	}

	fields := &RenderedFields{Subject: tmpl.Subject}
	missing := newMissingSet()

	if tmpl.Subject != "" {
		rendered, names := Render(tmpl.Subject, variables, true)
		fields.Subject = rendered
		missing.addAll(names)
	}

	if tmpl.Content != "" {
		rendered, names := Render(tmpl.Content, variables, true)
		fields.Content = rendered
		missing.addAll(names)
	}

	if tmpl.HTMLContent != "" {
		rendered, names := Render(tmpl.HTMLContent, variables, true)
		fields.HTMLContent = rendered
		missing.addAll(names)
	}

	elapsed := time.Since(start)

	if required := tmpl.requiredMissing(missing.names()); len(required) > 0 {
		err := apperrors.VariableMissingError(required)
		r.logAttempt(tmpl, notificationID, organizationID, elapsed, variables, required, err)
		return nil, elapsed, err
	}

	r.logAttempt(tmpl, notificationID, organizationID, elapsed, variables, nil, nil)

	if r.usage != nil {
		if err := r.usage.IncrementUsage(ctx, tmpl.ID, elapsed); err != nil {
			r.logger.Warn("failed to update template usage stats",
				logging.String("template_code", tmpl.Code),
				logging.Err(err),
			)
		}
	}

	return fields, elapsed, nil
}

func (r *Renderer) checkBudget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.RenderTimeoutError("template rendering timeout")
	}

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= 0 {
		return apperrors.RenderTimeoutError("template rendering timeout")
	}

	return nil
}

// requiredMissing filters out underscore-prefixed names, which are
// declared optional.
func (t *Template) requiredMissing(missing []string) []string {
	var required []string
	for _, name := range missing {
		if !strings.HasPrefix(name, "_") {
			required = append(required, name)
		}
	}
	return required
}

func (r *Renderer) logAttempt(tmpl *Template, notificationID, organizationID string, elapsed time.Duration, variables map[string]interface{}, missing []string, renderErr error) {
	entry := &UsageLog{
		TemplateID:       tmpl.ID,
		TemplateCode:     tmpl.Code,
		TemplateVersion:  tmpl.Version,
		TemplateType:     tmpl.Type,
		Language:         tmpl.Language,
		OrganizationID:   organizationID,
		NotificationID:   notificationID,
		RenderedAt:       time.Now().UTC(),
		RenderTime:       elapsed,
		Outcome:          outcomeFor(renderErr),
		VariablesUsed:    variableNames(variables),
		VariablesMissing: missing,
	}

	if renderErr != nil {
		entry.ErrorMessage = truncateError(renderErr.Error())
	}

	// Usage logging is best-effort and detached from the caller's
	// deadline so an expired render context cannot drop the entry.
	if err := r.sink.Record(context.Background(), entry); err != nil {
		r.logger.Error("failed to record template usage", err,
			logging.String("template_code", tmpl.Code),
			logging.String("organization_id", organizationID),
		)
	}
}

func outcomeFor(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	switch apperrors.GetType(err) {
	case apperrors.ErrTypeVariableMissing:
		return OutcomeVariableMissing
	case apperrors.ErrTypeRenderTimeout:
		return OutcomeTimeout
	case apperrors.ErrTypeNotFound:
		return OutcomeNotFound
	default:
		return OutcomeRenderError
	}
}

func variableNames(variables map[string]interface{}) []string {
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	return names
}

// missingSet is an insertion-ordered string set
type missingSet struct {
	seen  map[string]bool
	order []string
}

func newMissingSet() *missingSet {
	return &missingSet{seen: make(map[string]bool)}
}

func (s *missingSet) add(name string) {
	if !s.seen[name] {
		s.seen[name] = true
		s.order = append(s.order, name)
	}
}

func (s *missingSet) addAll(names []string) {
	for _, name := range names {
		s.add(name)
	}
}

func (s *missingSet) names() []string { return s.order }

func renderConditionals(text string, variables map[string]interface{}, missing *missingSet) string {
	return conditionalPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := conditionalPattern.FindStringSubmatch(match)
		name, block := groups[1], groups[2]

		value, bound := variables[name]
		if !bound {
			missing.add(name)
			return ""
		}

		if truthy(value) {
			return block
		}
		return ""
	})
}

func renderLoops(text string, variables map[string]interface{}, escapeHTML bool, missing *missingSet) string {
	return loopPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := loopPattern.FindStringSubmatch(match)
		name, block := groups[1], groups[2]

		value, bound := variables[name]
		if !bound {
			missing.add(name)
			return ""
		}

		items, ok := asSequence(value)
		if !ok {
			logging.GetGlobalLogger().Warn("variable is not a sequence but used in #each loop",
				logging.String("variable", name),
			)
			return ""
		}

		var out strings.Builder
		for _, item := range items {
			// Element context: outer variables overlaid by "item" and,
			// for mapping elements, by the element's own keys.
			itemContext := make(map[string]interface{}, len(variables)+1)
			for k, v := range variables {
				itemContext[k] = v
			}
			itemContext["item"] = item

			if mapping, ok := item.(map[string]interface{}); ok {
				for k, v := range mapping {
					itemContext[k] = v
				}
			}

			// Names unbound inside a loop body are not reported missing;
			// the element context is expected to vary per item.
			out.WriteString(renderVariables(block, itemContext, escapeHTML, newMissingSet()))
		}

		return out.String()
	})
}

func renderVariables(text string, variables map[string]interface{}, escapeHTML bool, missing *missingSet) string {
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]

		value, bound := variables[name]
		if !bound {
			missing.add(name)
			return match
		}

		rendered := stringify(value)
		if escapeHTML {
			rendered = html.EscapeString(rendered)
		}
		return rendered
	})
}

// truthy reports whether a conditional variable keeps its block. The
// string forms "", "false", and "0" are falsy; everything else is truthy.
func truthy(value interface{}) bool {
	switch s := stringify(value); s {
	case "", "false", "0":
		return false
	default:
		return true
	}
}

func stringify(value interface{}) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// asSequence normalizes slice and array values to []interface{}.
// Strings and byte slices are not sequences for loop purposes.
func asSequence(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case []interface{}:
		return v, true
	case string, []byte:
		return nil, false
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	items := make([]interface{}, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
