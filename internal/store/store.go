// Package store opens the configured persistence backend.
package store

import (
	"context"
	"fmt"

	"github.com/TomasB/geocache/internal/config"
	"github.com/TomasB/geocache/internal/data"
	"github.com/TomasB/geocache/internal/store/memory"
	"github.com/TomasB/geocache/internal/store/pebble"
	"github.com/TomasB/geocache/internal/store/postgres"
	"github.com/TomasB/geocache/internal/store/sqlite"
)

// Store is a backend holding both records and deny-list entries.
type Store interface {
	Records() data.RecordStore
	Denies() data.DenyStore
	Ping(ctx context.Context) error
	Close() error
}

// Open opens the backend named by conf.Driver. Schemas are created or
// migrated as part of opening.
func Open(ctx context.Context, conf config.Store) (Store, error) {
	switch conf.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		s, err := sqlite.Open(conf.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPebble:
		s, err := pebble.Open(conf.Pebble.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.ConnectAndMigrate(ctx, postgres.Config{
			Host:           conf.Postgres.Host,
			Port:           conf.Postgres.Port,
			User:           conf.Postgres.User,
			Password:       conf.Postgres.Password,
			Database:       conf.Postgres.Database,
			SSLMode:        conf.Postgres.SSLMode,
			MaxConns:       conf.Postgres.MaxConns,
			ConnectTimeout: conf.Postgres.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", conf.Driver)
	}
}
