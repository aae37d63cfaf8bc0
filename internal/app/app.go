// Package app assembles the application: database pool, stores, the stream
// publisher, the tool gateway, the planner and the run controller, plus the
// HTTP server on top.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/breezehq/breeze/db"
	"github.com/breezehq/breeze/internal/api"
	"github.com/breezehq/breeze/internal/config"
	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/run"
	"github.com/breezehq/breeze/internal/session"
	"github.com/breezehq/breeze/internal/stream"
	"github.com/breezehq/breeze/internal/tools"
	"github.com/breezehq/breeze/internal/track"
)

// App is the assembled application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	DBPool     *pgxpool.Pool
	Store      *session.Store
	Windows    *session.Windows
	Publisher  *stream.Publisher
	Tracker    *track.Tracker
	Gateway    *tools.Gateway
	Controller *run.Controller
	Server     *api.Server
}

// Close shuts the application down: in-flight runs first, then the pool.
func (a *App) Close(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Controller != nil {
		if err := a.Controller.Close(ctx); err != nil {
			a.Logger.Warn("closing run controller", "error", err)
		}
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}
	return nil
}

// Handler returns the HTTP handler serving the full API surface.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
