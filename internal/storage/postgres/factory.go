package postgres

import (
	"fmt"

	"github.com/digitalboi0/Template-man/internal/storage"
)

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	switch cfg := config.(type) {
	case *Config:
		return NewAdapter(cfg)
	case storage.GenericConfig:
		pgConfig := &Config{SSLMode: "prefer"}
		if host, ok := cfg["host"].(string); ok {
			pgConfig.Host = host
		}
		if port, ok := cfg["port"].(int); ok {
			pgConfig.Port = port
		}
		if database, ok := cfg["database"].(string); ok {
			pgConfig.Database = database
		}
		if username, ok := cfg["username"].(string); ok {
			pgConfig.Username = username
		}
		if password, ok := cfg["password"].(string); ok {
			pgConfig.Password = password
		}
		if sslMode, ok := cfg["sslmode"].(string); ok && sslMode != "" {
			pgConfig.SSLMode = sslMode
		}
		return NewAdapter(pgConfig)
	default:
		return nil, fmt.Errorf("invalid config type for PostgreSQL storage")
	}
}

func (f *Factory) GetType() string {
	return "postgres"
}

func init() {
	storage.Register("postgres", &Factory{})
}
