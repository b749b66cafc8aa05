package app

import (
	"context"
	"strconv"
	"time"

	"github.com/digitalboi0/Template-man/internal/common/logging"
	"github.com/digitalboi0/Template-man/internal/storage"
	"github.com/digitalboi0/Template-man/internal/templates"
	"github.com/robfig/cron/v3"
)

func (app *App) initializeRenderer() {
	app.Renderer = templates.NewRenderer(&templates.RendererConfig{
		Timeout: app.Config.RenderTimeoutDuration(),
		Sink:    storage.NewUsageSink(app.Storage),
		Usage:   app.Storage,
	})

	app.Logger.Info("Renderer: initialized",
		logging.Duration("timeout", app.Config.RenderTimeoutDuration()),
	)
}

// initializeCleanup schedules the usage-log retention job
func (app *App) initializeCleanup() error {
	retentionDays, err := strconv.Atoi(app.Config.UsageLogRetentionDays)
	if err != nil || retentionDays <= 0 {
		app.Logger.Info("Usage log cleanup: disabled")
		return nil
	}

	c := cron.New()
	_, err = c.AddFunc(app.Config.UsageLogCleanupCron, func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		purged, err := app.Storage.PurgeUsageLogs(context.Background(), cutoff)
		if err != nil {
			app.Logger.Warn("usage log cleanup failed", logging.Err(err))
			return
		}
		app.Logger.Info("usage log cleanup complete",
			logging.Int64("purged", purged),
			logging.Time("cutoff", cutoff),
		)
	})
	if err != nil {
		return err
	}

	c.Start()
	app.cleanupCron = c

	app.Logger.Info("Usage log cleanup: scheduled",
		logging.String("schedule", app.Config.UsageLogCleanupCron),
		logging.Int("retention_days", retentionDays),
	)

	return nil
}
