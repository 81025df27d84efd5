package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ibra15-cyber/todo-backend/internal/api"
	"github.com/ibra15-cyber/todo-backend/internal/config"
	"github.com/ibra15-cyber/todo-backend/internal/engine"
	"github.com/ibra15-cyber/todo-backend/internal/leaderelection"
	"github.com/ibra15-cyber/todo-backend/internal/store/memory"
	"github.com/ibra15-cyber/todo-backend/internal/store/postgres"

	_ "github.com/lib/pq"
)

// recordStore is served by both the HTTP API and the engine.
type recordStore interface {
	engine.Store
	api.Store
}

// backend is the opened record store together with what serve needs around it.
type backend struct {
	store recordStore
	db    *sql.DB // nil for the memory store
	lock  leaderelection.Lock
}

func (b *backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Info().
		Str("component", "taskexpiry").
		Int("max_open", cfg.DBMaxOpenConns).
		Int("max_idle", cfg.DBMaxIdleConns).
		Dur("max_lifetime", cfg.DBConnMaxLifetime).
		Dur("max_idle_time", cfg.DBConnMaxIdleTime).
		Msg("taskexpiry: db pool configured")

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// openBackend opens the configured record store. The memory store lives only
// as long as the process and always elects itself leader.
func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	if cfg.Store == "memory" {
		return &backend{store: memory.New(), lock: leaderelection.LocalLock{}}, nil
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pg := postgres.New(db).
		WithOpTimeout(cfg.DBOpTimeout).
		WithPollInterval(cfg.FeedPollInterval)

	if cfg.DBMigrate {
		applied, err := pg.Migrate(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Str("component", "taskexpiry").Strs("applied", applied).Msg("taskexpiry: migrations applied")
	}

	return &backend{
		store: pg,
		db:    db,
		lock:  leaderelection.NewPostgresLock(db, cfg.LeaderLockKey),
	}, nil
}
