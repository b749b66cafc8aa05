package templates

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
)

func TestRender_Variables(t *testing.T) {
	t.Run("simple substitution", func(t *testing.T) {
		out, missing := Render("Hello {{name}}!", map[string]interface{}{"name": "Ada"}, true)
		assert.Equal(t, "Hello Ada!", out)
		assert.Empty(t, missing)
	})

	t.Run("missing variable keeps literal placeholder", func(t *testing.T) {
		out, missing := Render("Hi {{name}}", map[string]interface{}{}, true)
		assert.Equal(t, "Hi {{name}}", out)
		assert.Equal(t, []string{"name"}, missing)
	})

	t.Run("nil value renders empty", func(t *testing.T) {
		out, missing := Render("[{{x}}]", map[string]interface{}{"x": nil}, true)
		assert.Equal(t, "[]", out)
		assert.Empty(t, missing)
	})

	t.Run("numeric values stringified", func(t *testing.T) {
		out, _ := Render("{{count}} items", map[string]interface{}{"count": 42}, true)
		assert.Equal(t, "42 items", out)
	})

	t.Run("html escaping on", func(t *testing.T) {
		out, _ := Render("{{x}}", map[string]interface{}{"x": "<b>"}, true)
		assert.Equal(t, "&lt;b&gt;", out)
	})

	t.Run("html escaping off", func(t *testing.T) {
		out, _ := Render("{{x}}", map[string]interface{}{"x": "<b>"}, false)
		assert.Equal(t, "<b>", out)
	})

	t.Run("empty text", func(t *testing.T) {
		out, missing := Render("", map[string]interface{}{"x": "1"}, true)
		assert.Equal(t, "", out)
		assert.Empty(t, missing)
	})

	t.Run("idempotent for identical inputs", func(t *testing.T) {
		vars := map[string]interface{}{"a": "1", "items": []string{"x", "y"}}
		text := "{{#if a}}{{a}}{{/if}} {{#each items}}{{item}}{{/each}} {{b}}"

		out1, missing1 := Render(text, vars, true)
		out2, missing2 := Render(text, vars, true)
		assert.Equal(t, out1, out2)
		assert.Equal(t, missing1, missing2)
	})
}

func TestRender_Conditionals(t *testing.T) {
	t.Run("truthy value keeps block", func(t *testing.T) {
		out, missing := Render("{{#if flag}}X{{/if}}", map[string]interface{}{"flag": "yes"}, true)
		assert.Equal(t, "X", out)
		assert.Empty(t, missing)
	})

	t.Run("falsy string values drop block", func(t *testing.T) {
		for _, falsy := range []interface{}{"", "false", "0", false, 0} {
			out, missing := Render("{{#if flag}}X{{/if}}", map[string]interface{}{"flag": falsy}, true)
			assert.Equal(t, "", out, "value %v", falsy)
			assert.Empty(t, missing)
		}
	})

	t.Run("absent conditional is recorded missing", func(t *testing.T) {
		out, missing := Render("{{#if flag}}X{{/if}}", map[string]interface{}{}, true)
		assert.Equal(t, "", out)
		assert.Equal(t, []string{"flag"}, missing)
	})

	t.Run("kept block is subject to later stages", func(t *testing.T) {
		out, missing := Render("{{#if greet}}Hi {{name}}{{/if}}",
			map[string]interface{}{"greet": "true", "name": "Ada"}, true)
		assert.Equal(t, "Hi Ada", out)
		assert.Empty(t, missing)
	})

	t.Run("multiline block", func(t *testing.T) {
		out, _ := Render("{{#if a}}line1\nline2{{/if}}", map[string]interface{}{"a": "1"}, true)
		assert.Equal(t, "line1\nline2", out)
	})
}

func TestRender_Loops(t *testing.T) {
	t.Run("expands per element in order", func(t *testing.T) {
		out, missing := Render("{{#each items}}{{item}},{{/each}}",
			map[string]interface{}{"items": []interface{}{"a", "b"}}, true)
		assert.Equal(t, "a,b,", out)
		assert.Empty(t, missing)
	})

	t.Run("typed string slice", func(t *testing.T) {
		out, _ := Render("{{#each items}}{{item}},{{/each}}",
			map[string]interface{}{"items": []string{"a", "b"}}, true)
		assert.Equal(t, "a,b,", out)
	})

	t.Run("mapping elements overlay their keys", func(t *testing.T) {
		items := []interface{}{
			map[string]interface{}{"sku": "A1", "qty": 2},
			map[string]interface{}{"sku": "B2", "qty": 1},
		}
		out, missing := Render("{{#each items}}{{sku}}x{{qty}};{{/each}}",
			map[string]interface{}{"items": items}, true)
		assert.Equal(t, "A1x2;B2x1;", out)
		assert.Empty(t, missing)
	})

	t.Run("outer variables visible inside loop", func(t *testing.T) {
		out, _ := Render("{{#each items}}{{prefix}}{{item}} {{/each}}",
			map[string]interface{}{"items": []string{"a"}, "prefix": "-"}, true)
		assert.Equal(t, "-a ", out)
	})

	t.Run("non-sequence yields empty expansion", func(t *testing.T) {
		out, missing := Render("{{#each items}}{{item}}{{/each}}",
			map[string]interface{}{"items": "not-a-list"}, true)
		assert.Equal(t, "", out)
		assert.Empty(t, missing)
	})

	t.Run("absent loop variable is recorded missing", func(t *testing.T) {
		out, missing := Render("{{#each items}}{{item}}{{/each}}", map[string]interface{}{}, true)
		assert.Equal(t, "", out)
		assert.Equal(t, []string{"items"}, missing)
	})

	t.Run("empty sequence", func(t *testing.T) {
		out, missing := Render("{{#each items}}{{item}}{{/each}}",
			map[string]interface{}{"items": []interface{}{}}, true)
		assert.Equal(t, "", out)
		assert.Empty(t, missing)
	})
}

func TestRender_MissingUnion(t *testing.T) {
	out, missing := Render("{{#if a}}x{{/if}} {{#each b}}{{item}}{{/each}} {{c}} {{c}}",
		map[string]interface{}{}, true)
	assert.Equal(t, "  {{c}} {{c}}", out)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, missing)
}

// recordingSink captures usage log entries for assertions
type recordingSink struct {
	mu      sync.Mutex
	entries []*UsageLog
}

func (s *recordingSink) Record(_ context.Context, entry *UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) all() []*UsageLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*UsageLog(nil), s.entries...)
}

// recordingCounter captures usage increments
type recordingCounter struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (c *recordingCounter) IncrementUsage(_ context.Context, _ uuid.UUID, renderTime time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, renderTime)
	return nil
}

func renderTestTemplate() *Template {
	return &Template{
		ID:             uuid.New(),
		OrganizationID: "org-1",
		Code:           "order_shipped",
		Type:           TypeEmail,
		Subject:        "Order {{order_id}} shipped",
		Content:        "Hi {{name}}, order {{order_id}} is on its way.{{#if _note}} Note: {{_note}}{{/if}}",
		HTMLContent:    "<p>Hi {{name}}</p>",
		Language:       "en",
		Version:        3,
		Status:         StatusActive,
	}
}

func TestRenderer_RenderTemplate(t *testing.T) {
	t.Run("renders all three fields", func(t *testing.T) {
		sink := &recordingSink{}
		counter := &recordingCounter{}
		renderer := NewRenderer(&RendererConfig{Sink: sink, Usage: counter})

		fields, elapsed, err := renderer.RenderTemplate(context.Background(), renderTestTemplate(),
			map[string]interface{}{"name": "Ada", "order_id": "42"}, "notif-1", "org-1")

		require.NoError(t, err)
		assert.Equal(t, "Order 42 shipped", fields.Subject)
		assert.Equal(t, "Hi Ada, order 42 is on its way.", fields.Content)
		assert.Equal(t, "<p>Hi Ada</p>", fields.HTMLContent)
		assert.GreaterOrEqual(t, elapsed, time.Duration(0))

		entries := sink.all()
		require.Len(t, entries, 1)
		assert.Equal(t, OutcomeSuccess, entries[0].Outcome)
		assert.Equal(t, "order_shipped", entries[0].TemplateCode)
		assert.Equal(t, 3, entries[0].TemplateVersion)
		assert.Equal(t, "notif-1", entries[0].NotificationID)
		assert.ElementsMatch(t, []string{"name", "order_id"}, entries[0].VariablesUsed)

		require.Len(t, counter.calls, 1)
	})

	t.Run("missing variables union across fields", func(t *testing.T) {
		sink := &recordingSink{}
		renderer := NewRenderer(&RendererConfig{Sink: sink})

		_, _, err := renderer.RenderTemplate(context.Background(), renderTestTemplate(),
			map[string]interface{}{}, "notif-2", "org-1")

		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeVariableMissing))

		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"order_id", "name"}, appErr.Context["variables_missing"])

		entries := sink.all()
		require.Len(t, entries, 1)
		assert.Equal(t, OutcomeVariableMissing, entries[0].Outcome)
		assert.ElementsMatch(t, []string{"order_id", "name"}, entries[0].VariablesMissing)
		assert.NotEmpty(t, entries[0].ErrorMessage)
	})

	t.Run("optional variables do not fail a render", func(t *testing.T) {
		renderer := NewRenderer(&RendererConfig{Sink: &recordingSink{}})

		fields, _, err := renderer.RenderTemplate(context.Background(), renderTestTemplate(),
			map[string]interface{}{"name": "Ada", "order_id": "42"}, "notif-3", "org-1")

		require.NoError(t, err)
		assert.NotContains(t, fields.Content, "{{_note}}")
	})

	t.Run("variable errors are not retried", func(t *testing.T) {
		sink := &recordingSink{}
		renderer := NewRenderer(&RendererConfig{Sink: sink})

		_, _, err := renderer.RenderTemplate(context.Background(), renderTestTemplate(),
			map[string]interface{}{}, "notif-4", "org-1")

		require.Error(t, err)
		assert.Len(t, sink.all(), 1)
	})

	t.Run("expired deadline times out with one entry per attempt", func(t *testing.T) {
		sink := &recordingSink{}
		renderer := NewRenderer(&RendererConfig{Sink: sink})
		renderer.retry.InitialDelay = time.Millisecond
		renderer.retry.MaxDelay = time.Millisecond

		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		_, _, err := renderer.RenderTemplate(ctx, renderTestTemplate(),
			map[string]interface{}{"name": "Ada", "order_id": "42"}, "notif-5", "org-1")

		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRenderTimeout))

		entries := sink.all()
		require.Len(t, entries, 2)
		for _, entry := range entries {
			assert.Equal(t, OutcomeTimeout, entry.Outcome)
		}
	})

	t.Run("nil template rejected", func(t *testing.T) {
		renderer := NewRenderer(nil)
		_, _, err := renderer.RenderTemplate(context.Background(), nil, nil, "n", "org")
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	})
}

func TestTruncateError(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncateError(string(long)), 500)
	assert.Equal(t, "short", truncateError("short"))
}
