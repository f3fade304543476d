// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/petitionfetch/internal/browser"
	"github.com/xkilldash9x/petitionfetch/internal/config"
	"github.com/xkilldash9x/petitionfetch/internal/diagnostics"
	"github.com/xkilldash9x/petitionfetch/internal/retrieval"
	"github.com/xkilldash9x/petitionfetch/internal/session"
	"github.com/xkilldash9x/petitionfetch/internal/store"
)

// components holds everything a retrieval needs, plus the optional audit store.
type components struct {
	Launcher  *browser.Launcher
	Sequencer *retrieval.Sequencer
	Store     *store.Store
	DBPool    *pgxpool.Pool

	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// Shutdown closes any sessions still open and the database pool.
func (c *components) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer cancel()

	if c.Launcher != nil {
		if err := c.Launcher.Shutdown(ctx); err != nil {
			c.logger.Warn("Error during browser shutdown", zap.Error(err))
		}
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
}

// saver returns the audit store as a saver, or nil when none is configured.
func (c *components) saver() resultSaver {
	if c.Store == nil {
		return nil
	}
	return c.Store
}

// initializeComponents handles dependency injection.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	comps := &components{shutdownTimeout: cfg.Server.ShutdownTimeout, logger: logger}

	// 1. Optional audit store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return comps, fmt.Errorf("failed to connect to database: %w", err)
		}
		comps.DBPool = pool

		dbStore, err := store.New(ctx, pool, logger)
		if err != nil {
			return comps, fmt.Errorf("failed to initialize database store: %w", err)
		}
		if err := dbStore.Migrate(ctx); err != nil {
			return comps, err
		}
		comps.Store = dbStore
	}

	// 2. Browser sessions
	comps.Launcher = browser.NewLauncher(cfg.Browser, logger)
	launch := func(ctx context.Context) (retrieval.Page, error) {
		s, err := comps.Launcher.Launch(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	// 3. Retrieval
	diag := diagnostics.NewStore(cfg.Diagnostics, logger)
	manager := session.NewManager(launch, cfg, diag, logger)
	comps.Sequencer = retrieval.NewSequencer(manager, cfg, diag, logger)

	return comps, nil
}
