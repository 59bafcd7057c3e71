package db

import (
	"context"
	"fmt"

	"github.com/AI2HU/fbads/internal/db/memory"
	"github.com/AI2HU/fbads/internal/db/mongodb"
	"github.com/AI2HU/fbads/internal/db/sqlite"
	"github.com/AI2HU/fbads/internal/models"
)

var (
	_ Database      = (*memory.Store)(nil)
	_ SQLDatabase   = (*sqlite.SQLite)(nil)
	_ NoSQLDatabase = (*mongodb.MongoDB)(nil)
)

// Hybrid routes task and config operations to the SQL store and event
// operations to the archive
type Hybrid struct {
	SQLDatabase
	NoSQLDatabase
}

// New creates the hybrid database from the two provider configurations
func New(sqlConfig, nosqlConfig *models.Config) (*Hybrid, error) {
	var sqlDB SQLDatabase
	switch sqlConfig.Provider {
	case "sqlite":
		sqlDB = sqlite.New(sqlConfig)
	case "memory":
		sqlDB = memory.New()
	default:
		return nil, fmt.Errorf("unsupported SQL database provider: %s", sqlConfig.Provider)
	}

	var nosqlDB NoSQLDatabase
	switch nosqlConfig.Provider {
	case "mongodb":
		nosqlDB = mongodb.New(nosqlConfig)
	case "memory", "":
		nosqlDB = memory.New()
	default:
		return nil, fmt.Errorf("unsupported NoSQL database provider: %s", nosqlConfig.Provider)
	}

	return &Hybrid{SQLDatabase: sqlDB, NoSQLDatabase: nosqlDB}, nil
}

// Connect connects both stores
func (h *Hybrid) Connect(ctx context.Context) error {
	if err := h.SQLDatabase.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect SQL database: %w", err)
	}
	if err := h.NoSQLDatabase.Connect(ctx); err != nil {
		_ = h.SQLDatabase.Disconnect(ctx)
		return fmt.Errorf("failed to connect NoSQL database: %w", err)
	}
	return nil
}

// Disconnect closes both stores, reporting the first failure
func (h *Hybrid) Disconnect(ctx context.Context) error {
	sqlErr := h.SQLDatabase.Disconnect(ctx)
	nosqlErr := h.NoSQLDatabase.Disconnect(ctx)
	if sqlErr != nil {
		return sqlErr
	}
	return nosqlErr
}

// Ping checks both stores
func (h *Hybrid) Ping(ctx context.Context) error {
	if err := h.SQLDatabase.Ping(ctx); err != nil {
		return fmt.Errorf("SQL database: %w", err)
	}
	if err := h.NoSQLDatabase.Ping(ctx); err != nil {
		return fmt.Errorf("NoSQL database: %w", err)
	}
	return nil
}
