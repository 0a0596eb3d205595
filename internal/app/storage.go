package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anonchat/edgeworker/internal/cache"
	cachememory "github.com/anonchat/edgeworker/internal/cache/memory"
	cachepostgres "github.com/anonchat/edgeworker/internal/cache/postgres"
	"github.com/anonchat/edgeworker/internal/config"
	"github.com/anonchat/edgeworker/internal/domain"
	"github.com/anonchat/edgeworker/internal/outbox"
	outboxmemory "github.com/anonchat/edgeworker/internal/outbox/memory"
	outboxpostgres "github.com/anonchat/edgeworker/internal/outbox/postgres"
	outboxsqlite "github.com/anonchat/edgeworker/internal/outbox/sqlite"
	"github.com/anonchat/edgeworker/internal/pkg/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

// stores are the durable backends selected by storage.driver.
type stores struct {
	outbox outbox.Repository
	cache  cache.Storage
	db     *pgxpool.Pool

	ping  func(ctx context.Context) error
	close func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		return openPostgres(ctx, cfg)

	case config.DriverSQLite:
		repo, err := outboxsqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("using sqlite storage", "path", cfg.Storage.SQLitePath)
		return &stores{
			outbox: repo,
			// Caches are refilled by install on every start.
			cache: cachememory.NewStore(),
			ping:  repo.Ping,
			close: func() { _ = repo.Close() },
		}, nil

	case config.DriverMemory:
		slog.Warn("using in-memory storage: queued messages are lost on restart")
		return &stores{
			outbox: outboxmemory.NewRepository(),
			cache:  cachememory.NewStore(),
			ping:   func(context.Context) error { return nil },
			close:  func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// ListQueued opens the configured durable store and returns every queued
// message, oldest first. Migrations are never applied.
func ListQueued(ctx context.Context, cfg *config.Config) ([]*domain.QueuedMessage, error) {
	c := *cfg
	c.Database.AutoMigrate = false

	s, err := openStores(ctx, &c)
	if err != nil {
		return nil, err
	}
	defer s.close()

	msgs, err := s.outbox.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queued messages: %w", err)
	}
	return msgs, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*stores, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(cfg.Database.URL, postgres.Up); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	return &stores{
		outbox: outboxpostgres.NewRepository(db),
		cache:  cachepostgres.NewStore(db),
		db:     db,
		ping:   db.Ping,
		close:  db.Close,
	}, nil
}
