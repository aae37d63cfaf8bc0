package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/breezehq/breeze/internal/agent"
	"github.com/breezehq/breeze/internal/api"
	"github.com/breezehq/breeze/internal/config"
	"github.com/breezehq/breeze/internal/log"
	"github.com/breezehq/breeze/internal/run"
	"github.com/breezehq/breeze/internal/session"
	"github.com/breezehq/breeze/internal/stream"
	"github.com/breezehq/breeze/internal/tools"
	"github.com/breezehq/breeze/internal/track"
)

// Setup creates and initializes the application. Call Close to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(ctx); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	a.Store = session.NewStore(pool, logger)
	a.Windows = session.NewWindows(a.Store, cfg.WindowSize, logger)
	a.Publisher = stream.NewPublisher(logger,
		stream.WithCapacity(cfg.StreamEvents),
		stream.WithRetention(cfg.StreamTTL),
	)
	a.Tracker = track.New(a.Store, a.Publisher, logger)

	gateway, err := provideGateway(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Gateway = gateway

	a.Controller = run.New(run.Config{
		MaxToolCalls: cfg.MaxToolCalls,
		RunTimeout:   cfg.RunTimeout,
		WindowSize:   cfg.WindowSize,
	}, a.Store, a.Windows, a.Tracker, a.Gateway, providePlanner(cfg, logger), logger)

	server, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Store:       a.Store,
		Runs:        a.Controller,
		Streams:     a.Publisher,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideGateway registers the tool set behind the invocation gateway.
// MockWeather swaps the live wttr.in client for a deterministic offline one.
func provideGateway(cfg *config.Config, logger log.Logger) (*tools.Gateway, error) {
	gw := tools.NewGateway(cfg.ToolTimeout, logger)

	httpClient := &http.Client{Timeout: cfg.ToolTimeout + time.Second}

	var weather tools.Tool
	if cfg.MockWeather {
		weather = tools.NewMockWeatherTool()
		logger.Info("using mock weather tool")
	} else {
		weather = tools.NewWeatherTool(cfg.WeatherBaseURL, httpClient, logger)
	}
	if err := gw.Register(weather); err != nil {
		return nil, fmt.Errorf("registering weather tool: %w", err)
	}

	if err := gw.Register(tools.NewGeocodeTool(cfg.GeocodeBaseURL, httpClient, logger)); err != nil {
		return nil, fmt.Errorf("registering geocode tool: %w", err)
	}

	logger.Info("tools registered", "tools", gw.Names())
	return gw, nil
}

// providePlanner picks the planner: the OpenAI model when an API key is
// configured, otherwise the built-in rule-based weather planner.
func providePlanner(cfg *config.Config, logger log.Logger) agent.Planner {
	if cfg.OpenAIAPIKey != "" {
		logger.Info("using openai planner", "model", cfg.OpenAIModel)
		return agent.NewOpenAIPlanner(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
	}
	logger.Info("using rule-based weather planner")
	return agent.NewWeatherPlanner(logger)
}
