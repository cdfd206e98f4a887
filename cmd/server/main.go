package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/oakshade/farm-admin/internal/backend"
	"github.com/oakshade/farm-admin/internal/common"
	"github.com/oakshade/farm-admin/internal/content"
	"github.com/oakshade/farm-admin/internal/core"
	"github.com/oakshade/farm-admin/internal/deploy"
	"github.com/oakshade/farm-admin/internal/followup"
	"github.com/oakshade/farm-admin/internal/images"
)

func getConfigPath() string {
	// First check if config path is provided via environment variable
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}

	// Default to config.yaml in current working directory
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return filepath.Join(cwd, "config.yaml")
}

func main() {
	// Load configuration
	configPath := getConfigPath()
	config, err := core.LoadConfig(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		panic(err)
	}

	store := content.NewStore(config.ContentDir)
	pipeline := images.NewPipeline(config.ImageDir)
	deployer := deploy.NewRunner(config.Deploy.Command, time.Duration(config.Deploy.TimeoutSeconds)*time.Second)

	followups := followup.NewRedisGateway(config.Redis.Address, config.Redis.QueueKey)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 5*time.Second)
	if followups.Available(startupCtx) {
		slog.Info("follow-up store connected", "address", config.Redis.Address, "key", config.Redis.QueueKey)
	}
	cancelStartup()

	server := defineServer()
	apiService := backend.NewAPIService(config, store, pipeline, followups, deployer)
	apiService.SetRoutes(server)

	address := fmt.Sprintf(":%d", config.Port)
	if config.LocalMode {
		// Trusted local-only mode skips authentication, so never listen
		// on anything but loopback.
		address = fmt.Sprintf("127.0.0.1:%d", config.Port)
	}

	// Start HTTP server in a goroutine to allow graceful shutdown
	go func() {
		if err := server.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if err := followups.Close(); err != nil {
		slog.Error("follow-up store close error", "error", err)
	}
}

func defineServer() *echo.Echo {
	e := echo.New()

	// Configure request logger to skip the probe endpoint
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/probe"
		},
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogError:     true,
		LogRemoteIP:  true,
		LogRoutePath: true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				slog.Error("request",
					"method", v.Method,
					"uri", v.URI,
					"route", v.RoutePath,
					"status", v.Status,
					"latency", v.Latency,
					"remote_ip", v.RemoteIP,
					"error", v.Error)
			} else {
				slog.Info("request",
					"method", v.Method,
					"uri", v.URI,
					"route", v.RoutePath,
					"status", v.Status,
					"latency", v.Latency,
					"remote_ip", v.RemoteIP)
			}
			return nil
		},
	}))

	e.Use(middleware.Recover())
	e.Pre(middleware.RemoveTrailingSlash())

	e.Validator = common.NewRequestValidator()

	return e
}
