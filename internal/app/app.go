// Package app encapsulates the daemon's components and lifecycle: config
// validation, store backend selection, engine startup, and the HTTP
// surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"convsync/pkg/bus"
	"convsync/pkg/config"
	"convsync/pkg/engine"
	"convsync/pkg/logger"
	"convsync/pkg/store"
	"convsync/pkg/store/pebblestore"
	"convsync/pkg/store/wsstore"
)

// App owns the engine, its store backend, and the HTTP server.
type App struct {
	cfg     config.Config
	version string

	eng    *engine.Engine
	remote store.RemoteStore
	local  *pebblestore.Store // non-nil for the embedded backend
	srv    *http.Server
}

// New validates the effective config and initializes resources that do not
// require a running context. Call Run to start the engine and HTTP server.
func New(cfg config.Config, version string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, version: version}
	switch cfg.Store.Backend {
	case config.BackendGateway:
		a.remote = wsstore.New(cfg.Store.Gateway.URL, wsstore.WithAPIKey(cfg.Store.Gateway.APIKey))
		logger.Info("store_backend", "backend", "gateway", "url", cfg.Store.Gateway.URL)
	default:
		local, err := pebblestore.Open(cfg.EffectiveDBPath())
		if err != nil {
			return nil, fmt.Errorf("open pebble at %s: %w", cfg.EffectiveDBPath(), err)
		}
		a.local = local
		a.remote = local
		logger.Info("store_backend", "backend", "pebble", "path", cfg.EffectiveDBPath())
	}

	a.eng = engine.New(cfg.Sync.User, a.remote, bus.New(), engine.Options{
		RefreshCron: cfg.RefreshCron(),
	})
	return a, nil
}

// Engine exposes the running engine (used by tests and embedders).
func (a *App) Engine() *engine.Engine { return a.eng }

// Run starts the engine and the HTTP server, and blocks until ctx is
// canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	if err := a.eng.Start(ctx); err != nil {
		a.shutdownStore()
		return err
	}

	// seed the cache so the first conversation-list read is populated
	if err := a.eng.Refresh(ctx); err != nil {
		logger.Warn("initial_refresh_failed", "error", err)
	}

	errCh := a.startHTTP()
	logger.Info("daemon_ready", "addr", a.cfg.Addr(), "user", a.cfg.Sync.User, "version", a.version)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	if a.srv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.srv.Shutdown(shutCtx)
		cancel()
	}
	a.eng.Stop()
	a.shutdownStore()
}

func (a *App) shutdownStore() {
	if a.local != nil {
		if err := a.local.Close(); err != nil {
			logger.Error("pebble_close_failed", "error", err)
		}
	}
}
