// Package app is the application-level orchestration: load config, build
// the dependency graph, run the engine and the HTTP surface.
package app

import (
	"context"
	"fmt"

	carvecfg "carve/internal/config"
	"carve/internal/engine"
	"carve/internal/logger"
	"carve/internal/store/gormstore"
	enginehttp "carve/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg    *carvecfg.Config
	engine *engine.Engine
	http   *enginehttp.Server
	audit  *gormstore.AuditStore
}

// NewApp builds the application object without starting it.
func NewApp(cfg *carvecfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Engine exposes the underlying engine (replay and test harnesses).
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Run starts the engine monitors and the HTTP server; it returns when ctx
// is cancelled or either part fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.engine == nil {
		return fmt.Errorf("engine not initialized")
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
		logger.Infof("HTTP listening on %s", a.http.Addr())
	}

	group.Go(func() error {
		return a.engine.Run(ctx)
	})

	err := group.Wait()
	if a.audit != nil {
		if cerr := a.audit.Close(); cerr != nil {
			logger.Warnf("closing audit store: %v", cerr)
		}
	}
	return err
}
