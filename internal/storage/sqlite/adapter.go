package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/digitalboi0/Template-man/internal/common/errors"
	"github.com/digitalboi0/Template-man/internal/storage"
	"github.com/digitalboi0/Template-man/internal/templates"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Connect(config storage.StorageConfig) error {
	sqliteConfig, ok := config.(*Config)
	if !ok {
		return fmt.Errorf("invalid config type for SQLite storage")
	}

	newAdapter, err := NewAdapter(sqliteConfig)
	if err != nil {
		return err
	}

	if a.db != nil {
		a.db.Close()
	}

	a.db = newAdapter.db
	a.config = newAdapter.config

	return nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			code TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			template_type TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			html_content TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'en',
			version INTEGER NOT NULL DEFAULT 1,
			is_default BOOLEAN NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'draft',
			published_at DATETIME,
			deactivated_at DATETIME,
			variables TEXT NOT NULL DEFAULT '[]',
			optional_variables TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			tags TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used_at DATETIME,
			average_render_time REAL NOT NULL DEFAULT 0,
			UNIQUE(organization_id, code, language, version)
		)`,
		`CREATE TABLE IF NOT EXISTS template_usage_logs (
			id TEXT PRIMARY KEY,
			template_id TEXT,
			template_code TEXT NOT NULL,
			template_version INTEGER NOT NULL DEFAULT 0,
			template_type TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'en',
			organization_id TEXT NOT NULL,
			notification_id TEXT NOT NULL DEFAULT '',
			rendered_at DATETIME NOT NULL,
			render_time REAL NOT NULL DEFAULT 0,
			result TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			variables_used TEXT NOT NULL DEFAULT '[]',
			variables_missing TEXT NOT NULL DEFAULT '[]'
		)`,

		`CREATE INDEX IF NOT EXISTS idx_templates_lookup ON templates(organization_id, code, language, status)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_org_status ON templates(organization_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_org_type ON templates(organization_id, template_type, status)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_usage ON templates(usage_count)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_logs_rendered_at ON template_usage_logs(rendered_at)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_logs_org_code ON template_usage_logs(organization_id, template_code)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_logs_result ON template_usage_logs(result)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

const templateColumns = `id, organization_id, code, name, description, template_type,
	subject, content, html_content, language, version, is_default, status,
	published_at, deactivated_at, variables, optional_variables, metadata, tags,
	created_at, updated_at, usage_count, last_used_at, average_render_time`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row rowScanner) (*templates.Template, error) {
	var tmpl templates.Template
	var id string
	var publishedAt, deactivatedAt, lastUsedAt sql.NullTime
	var variables, optionalVariables, metadata, tags string

	err := row.Scan(
		&id, &tmpl.OrganizationID, &tmpl.Code, &tmpl.Name, &tmpl.Description, &tmpl.Type,
		&tmpl.Subject, &tmpl.Content, &tmpl.HTMLContent, &tmpl.Language, &tmpl.Version,
		&tmpl.IsDefault, &tmpl.Status, &publishedAt, &deactivatedAt,
		&variables, &optionalVariables, &metadata, &tags,
		&tmpl.CreatedAt, &tmpl.UpdatedAt, &tmpl.UsageCount, &lastUsedAt, &tmpl.AverageRenderTime,
	)
	if err != nil {
		return nil, err
	}

	tmpl.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid template id %q: %w", id, err)
	}

	if publishedAt.Valid {
		tmpl.PublishedAt = &publishedAt.Time
	}
	if deactivatedAt.Valid {
		tmpl.DeactivatedAt = &deactivatedAt.Time
	}
	if lastUsedAt.Valid {
		tmpl.LastUsedAt = &lastUsedAt.Time
	}

	if err := json.Unmarshal([]byte(variables), &tmpl.Variables); err != nil {
		return nil, fmt.Errorf("corrupt variables column: %w", err)
	}
	if err := json.Unmarshal([]byte(optionalVariables), &tmpl.OptionalVariables); err != nil {
		return nil, fmt.Errorf("corrupt optional_variables column: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &tmpl.Metadata); err != nil {
		return nil, fmt.Errorf("corrupt metadata column: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &tmpl.Tags); err != nil {
		return nil, fmt.Errorf("corrupt tags column: %w", err)
	}

	return &tmpl, nil
}

func marshalList(list []string) string {
	if list == nil {
		list = []string{}
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func marshalMap(m map[string]interface{}) string {
	if m == nil {
		m = map[string]interface{}{}
	}
	data, _ := json.Marshal(m)
	return string(data)
}

func (a *Adapter) GetActiveTemplate(ctx context.Context, organizationID, code, language string) (*templates.Template, error) {
	if organizationID == "" {
		return nil, apperrors.ValidationError("organization_id is required")
	}

	if language == "" {
		language = templates.DefaultLanguage
	}

	query := `SELECT ` + templateColumns + ` FROM templates
		WHERE organization_id = ? AND code = ? AND language = ? AND status = 'active' AND is_default = 1
		LIMIT 1`

	tmpl, err := scanTemplate(a.db.QueryRowContext(ctx, query, organizationID, code, language))
	if err == nil {
		return tmpl, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}

	// Fall back to the English default
	if language != templates.DefaultLanguage {
		tmpl, err = scanTemplate(a.db.QueryRowContext(ctx, query, organizationID, code, templates.DefaultLanguage))
		if err == nil {
			return tmpl, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to query template: %w", err)
		}
	}

	// Last resort: newest active version of the code in any language
	fallback := `SELECT ` + templateColumns + ` FROM templates
		WHERE organization_id = ? AND code = ? AND status = 'active'
		ORDER BY version DESC LIMIT 1`

	tmpl, err = scanTemplate(a.db.QueryRowContext(ctx, fallback, organizationID, code))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("template")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}

	return tmpl, nil
}

func (a *Adapter) GetTemplate(ctx context.Context, id uuid.UUID) (*templates.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = ?`

	tmpl, err := scanTemplate(a.db.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("template")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}

	return tmpl, nil
}

func (a *Adapter) queryTemplates(ctx context.Context, query string, args ...interface{}) ([]*templates.Template, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var result []*templates.Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		result = append(result, tmpl)
	}

	return result, rows.Err()
}

func (a *Adapter) ListActiveTemplates(ctx context.Context, organizationID string) ([]*templates.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates
		WHERE organization_id = ? AND status = 'active' AND is_default = 1
		ORDER BY code, language`
	return a.queryTemplates(ctx, query, organizationID)
}

func (a *Adapter) ListAllActiveTemplates(ctx context.Context) ([]*templates.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates
		WHERE status = 'active' AND is_default = 1
		ORDER BY organization_id, code, language`
	return a.queryTemplates(ctx, query)
}

func (a *Adapter) ListTemplatesByType(ctx context.Context, organizationID string, templateType templates.Type) ([]*templates.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates
		WHERE organization_id = ? AND template_type = ? AND status = 'active' AND is_default = 1
		ORDER BY code, language`
	return a.queryTemplates(ctx, query, organizationID, string(templateType))
}

func (a *Adapter) ListTemplatesByTag(ctx context.Context, organizationID, tag string) ([]*templates.Template, error) {
	// Tags are stored as a JSON array of strings, so a quoted substring
	// match finds exact tag membership.
	query := `SELECT ` + templateColumns + ` FROM templates
		WHERE organization_id = ? AND status = 'active' AND is_default = 1
		AND tags LIKE '%"' || ? || '"%'
		ORDER BY code, language`
	return a.queryTemplates(ctx, query, organizationID, tag)
}

func (a *Adapter) ListTopUsedTemplates(ctx context.Context, organizationID string, limit int) ([]*templates.Template, error) {
	if limit <= 0 {
		limit = 10
	}

	if organizationID == "" {
		query := `SELECT ` + templateColumns + ` FROM templates
			WHERE status = 'active' AND is_default = 1
			ORDER BY usage_count DESC LIMIT ?`
		return a.queryTemplates(ctx, query, limit)
	}

	query := `SELECT ` + templateColumns + ` FROM templates
		WHERE organization_id = ? AND status = 'active' AND is_default = 1
		ORDER BY usage_count DESC LIMIT ?`
	return a.queryTemplates(ctx, query, organizationID, limit)
}

func (a *Adapter) CreateTemplate(ctx context.Context, tmpl *templates.Template) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var nextVersion int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM templates
		 WHERE organization_id = ? AND code = ? AND language = ?`,
		tmpl.OrganizationID, tmpl.Code, tmpl.Language,
	).Scan(&nextVersion)
	if err != nil {
		return fmt.Errorf("failed to compute next version: %w", err)
	}

	now := time.Now().UTC()
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	tmpl.Version = nextVersion
	tmpl.Status = templates.StatusDraft
	tmpl.IsDefault = false
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO templates (
			id, organization_id, code, name, description, template_type,
			subject, content, html_content, language, version, is_default, status,
			variables, optional_variables, metadata, tags, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tmpl.ID.String(), tmpl.OrganizationID, tmpl.Code, tmpl.Name, tmpl.Description,
		string(tmpl.Type), tmpl.Subject, tmpl.Content, tmpl.HTMLContent, tmpl.Language,
		tmpl.Version, tmpl.IsDefault, string(tmpl.Status),
		marshalList(tmpl.Variables), marshalList(tmpl.OptionalVariables),
		marshalMap(tmpl.Metadata), marshalList(tmpl.Tags), tmpl.CreatedAt, tmpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}

	return tx.Commit()
}

// ActivateTemplate promotes a version to the active default for its
// (organization, code, language), demoting the prior default in the same
// transaction. Calling it on a version that is already active, including
// one previously demoted from default, is a no-op: the default flag is
// not restored.
func (a *Adapter) ActivateTemplate(ctx context.Context, id uuid.UUID) (*templates.Template, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tmpl, err := scanTemplate(tx.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = ?`, id.String()))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("template")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	if tmpl.Status == templates.StatusActive {
		return tmpl, tx.Commit()
	}

	now := time.Now().UTC()

	// The previous default for this (organization, code, language) loses
	// its flag in the same transaction, preserving default uniqueness.
	_, err = tx.ExecContext(ctx,
		`UPDATE templates SET is_default = 0, updated_at = ?
		 WHERE organization_id = ? AND code = ? AND language = ? AND is_default = 1 AND id <> ?`,
		now, tmpl.OrganizationID, tmpl.Code, tmpl.Language, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to demote previous default: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE templates SET status = 'active', is_default = 1, published_at = ?, updated_at = ?
		 WHERE id = ?`,
		now, now, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to activate template: %w", err)
	}

	tmpl.Status = templates.StatusActive
	tmpl.IsDefault = true
	tmpl.PublishedAt = &now
	tmpl.UpdatedAt = now

	return tmpl, tx.Commit()
}

func (a *Adapter) ArchiveTemplate(ctx context.Context, id uuid.UUID) (*templates.Template, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tmpl, err := scanTemplate(tx.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = ?`, id.String()))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundError("template")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	if tmpl.Status == templates.StatusArchived {
		return tmpl, tx.Commit()
	}

	if tmpl.IsDefault {
		var otherActive int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM templates
			 WHERE organization_id = ? AND code = ? AND language = ? AND status = 'active' AND id <> ?`,
			tmpl.OrganizationID, tmpl.Code, tmpl.Language, id.String(),
		).Scan(&otherActive)
		if err != nil {
			return nil, fmt.Errorf("failed to count active versions: %w", err)
		}

		if otherActive == 0 {
			return nil, apperrors.ValidationError("cannot archive the default template version; activate another version first")
		}
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE templates SET status = 'archived', is_default = 0, deactivated_at = ?, updated_at = ?
		 WHERE id = ?`,
		now, now, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to archive template: %w", err)
	}

	tmpl.Status = templates.StatusArchived
	tmpl.IsDefault = false
	tmpl.DeactivatedAt = &now
	tmpl.UpdatedAt = now

	return tmpl, tx.Commit()
}

func (a *Adapter) IncrementUsage(ctx context.Context, templateID uuid.UUID, renderTime time.Duration) error {
	// Incremental weighted mean so the update stays a single atomic statement
	_, err := a.db.ExecContext(ctx,
		`UPDATE templates SET
			usage_count = usage_count + 1,
			last_used_at = ?,
			average_render_time = (average_render_time * usage_count + ?) / (usage_count + 1)
		 WHERE id = ?`,
		time.Now().UTC(), renderTime.Seconds(), templateID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

func (a *Adapter) CreateUsageLog(ctx context.Context, entry *templates.UsageLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.RenderedAt.IsZero() {
		entry.RenderedAt = time.Now().UTC()
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO template_usage_logs (
			id, template_id, template_code, template_version, template_type, language,
			organization_id, notification_id, rendered_at, render_time, result,
			error_message, variables_used, variables_missing
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.TemplateID.String(), entry.TemplateCode, entry.TemplateVersion,
		string(entry.TemplateType), entry.Language, entry.OrganizationID, entry.NotificationID,
		entry.RenderedAt, entry.RenderTime.Seconds(), string(entry.Outcome),
		entry.ErrorMessage, marshalList(entry.VariablesUsed), marshalList(entry.VariablesMissing),
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage log: %w", err)
	}
	return nil
}

func (a *Adapter) PurgeUsageLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := a.db.ExecContext(ctx,
		`DELETE FROM template_usage_logs WHERE rendered_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge usage logs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return deleted, nil
}

func (a *Adapter) GetUsageStats(ctx context.Context, organizationID, templateCode string, since time.Time) (*storage.UsageStats, error) {
	where := `WHERE rendered_at >= ?`
	args := []interface{}{since}

	if organizationID != "" {
		where += ` AND organization_id = ?`
		args = append(args, organizationID)
	}
	if templateCode != "" {
		where += ` AND template_code = ?`
		args = append(args, templateCode)
	}

	stats := &storage.UsageStats{
		ByOutcome: make(map[string]int64),
		Since:     since,
	}

	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN result = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN result = 'success' THEN render_time END), 0)
		 FROM template_usage_logs `+where, args...,
	).Scan(&stats.TotalRenders, &stats.SuccessCount, &stats.AverageRenderTime)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage stats: %w", err)
	}
	stats.ErrorCount = stats.TotalRenders - stats.SuccessCount

	rows, err := a.db.QueryContext(ctx,
		`SELECT result, COUNT(*) FROM template_usage_logs `+where+` GROUP BY result`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		stats.ByOutcome[outcome] = count
	}

	return stats, rows.Err()
}
