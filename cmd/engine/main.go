package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/runlet/engine/cmd/engine/container"
	"github.com/runlet/engine/cmd/engine/handlers"
	"github.com/runlet/engine/cmd/engine/routes"
	"github.com/runlet/engine/common/bootstrap"
	"github.com/runlet/engine/common/config"
	"github.com/runlet/engine/common/repository"
	"github.com/runlet/engine/common/server"
	"github.com/runlet/engine/runtime"
)

func main() {
	ctx := context.Background()

	// Load .env if present; real deployments configure the environment
	// directly and have no .env file.
	_ = godotenv.Load()

	cfg, err := config.Load("engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid engine configuration: %v\n", err)
		os.Exit(1)
	}

	// Dev mode runs as a single binary with in-memory stores, so Postgres
	// and Redis are skipped entirely. Prod connects to both and applies the
	// repository schema on boot.
	opts := []bootstrap.Option{bootstrap.WithCustomConfig(cfg)}
	if cfg.Engine.Mode == runtime.ModeDev {
		opts = append(opts, bootstrap.WithoutDB(), bootstrap.WithoutRedis())
	} else {
		opts = append(opts, bootstrap.WithDBInitHook(repository.EnsureSchema))
	}

	// Bootstrap common components (config, logger, DB, Redis, telemetry)
	components, err := bootstrap.Setup(ctx, "engine", opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap engine: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	// Initialize Echo server
	e := setupEcho()

	// Setup middleware
	setupMiddleware(e)

	// Setup health check
	setupHealthCheck(e, components)

	// Register all routes
	registerRoutes(e, serviceContainer)

	// Schedule cron-triggered deployments
	if err := serviceContainer.Dispatcher.Start(ctx); err != nil {
		components.Logger.Warn("cron dispatcher failed to start", "error", err)
	}

	// Start server
	startServer(ctx, e, serviceContainer)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewRequestValidator()
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "engine",
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterExecutionRoutes(e, serviceContainer)
	routes.RegisterWorkflowRoutes(e, serviceContainer)
	routes.RegisterCatalogRoutes(e, serviceContainer)
	routes.RegisterObjectRoutes(e, serviceContainer)
}

// startServer runs the Echo handler under the graceful server wrapper
func startServer(ctx context.Context, e *echo.Echo, serviceContainer *container.Container) {
	components := serviceContainer.Components
	srv := server.New("engine", components.Config.Service.Port, e, components.Logger)
	srv.OnShutdown(serviceContainer.Dispatcher.Stop)

	if err := srv.Start(ctx); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
