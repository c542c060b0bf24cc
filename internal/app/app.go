// Package app wires configuration into the store and generator shared by the
// service and the operator CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinglebot/weather-service/internal/adapter/mongo"
	"github.com/tinglebot/weather-service/internal/adapter/sqlstore"
	"github.com/tinglebot/weather-service/internal/config"
	"github.com/tinglebot/weather-service/internal/forecast"
	"github.com/tinglebot/weather-service/internal/weather"
)

// Store is a weather store that owns resources to release on shutdown.
type Store interface {
	weather.Store
	Close(ctx context.Context) error
}

// OpenStore connects the store selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		s, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("weather store ready", "driver", cfg.StoreDriver, "database", cfg.MongoDatabase, "collection", cfg.MongoCollection)
		return s, nil
	case config.DriverSQLite:
		s, err := sqlstore.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("weather store ready", "driver", cfg.StoreDriver, "path", cfg.SQLitePath)
		return sqliteStore{s}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

type sqliteStore struct {
	*sqlstore.Store
}

func (s sqliteStore) Close(context.Context) error { return s.Store.Close() }

// Tables returns the embedded season tables, or the override at
// WEATHER_TABLES_PATH.
func Tables(cfg *config.Config) (*forecast.Tables, error) {
	if cfg.TablesPath != "" {
		return forecast.LoadTables(cfg.TablesPath)
	}
	return forecast.DefaultTables()
}
