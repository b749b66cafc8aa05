package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/digitalboi0/Template-man/internal/common/logging"
	"github.com/digitalboi0/Template-man/internal/config"
	"github.com/digitalboi0/Template-man/internal/handlers"
	"github.com/digitalboi0/Template-man/internal/middleware"
	"github.com/digitalboi0/Template-man/internal/server"
)

// Run is the main entry point for the application
func Run() error {
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	defer logging.MustSync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	logging.Info("Starting template service",
		logging.String("port", cfg.Port),
		logging.String("database_type", cfg.DatabaseType),
	)

	app, err := New(context.Background(), cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv := server.New(app.Router(), cfg.Port)
	errCh := srv.Start()

	logging.Info("Server started", logging.String("addr", ":"+cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logging.Error("Server failed", err)
		return err
	case <-quit:
	}

	logging.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server stopped")
	return nil
}

// Router builds the HTTP routing tree with all handlers attached
func (app *App) Router() http.Handler {
	h := handlers.New(
		app.Storage,
		app.Aside,
		app.Mirror,
		app.Versions,
		app.Renderer,
		app.RedisClient,
		app.Config,
	)

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	h.RegisterRoutes(router)

	return router
}
