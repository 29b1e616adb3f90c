package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saaga0h/jeeves-rtls/internal/api"
	"github.com/saaga0h/jeeves-rtls/internal/history"
	"github.com/saaga0h/jeeves-rtls/internal/tracker"
	"github.com/saaga0h/jeeves-rtls/pkg/config"
	"github.com/saaga0h/jeeves-rtls/pkg/health"
	"github.com/saaga0h/jeeves-rtls/pkg/mqtt"
	"github.com/saaga0h/jeeves-rtls/pkg/postgres"
	"github.com/saaga0h/jeeves-rtls/pkg/redis"
)

func main() {
	// Load configuration with hierarchy: defaults → env → flags
	cfg := config.NewConfig()
	cfg.LoadFromEnv()
	cfg.LoadFromFlags()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting J.E.E.V.E.S. RTLS Tracker Agent",
		"version", "1.0",
		"service_name", cfg.ServiceName,
		"mqtt_broker", cfg.MQTTAddress(),
		"redis_host", cfg.RedisAddress(),
		"store", cfg.StoreBackend,
		"settings", cfg.SettingsSource,
		"log_level", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	mqttClient := mqtt.NewClient(cfg, logger)
	redisClient := redis.NewClient(cfg, logger)

	store, database, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open history store", "error", err)
		os.Exit(1)
	}
	if database != nil {
		defer database.Disconnect()
	}

	settings := openSettings(cfg, redisClient)
	if err := history.CheckSettings(ctx, settings); err != nil {
		logger.Error("Hysteresis settings are not usable", "source", cfg.SettingsSource, "error", err)
		os.Exit(1)
	}

	zones, err := openZones(cfg, redisClient)
	if err != nil {
		logger.Error("Failed to load zone catalog", "error", err)
		os.Exit(1)
	}

	service := history.NewService(store, settings, zones, logger)
	agent := tracker.NewAgent(mqttClient, redisClient, service, cfg, logger)

	var dbChecker health.DatabaseChecker
	if database != nil {
		dbChecker = database
	}
	healthChecker := health.NewChecker(mqttClient, redisClient, dbChecker, logger)
	healthServer := startHealthServer(cfg.HealthPort, healthChecker, logger)
	apiServer := startAPIServer(cfg.APIPort, api.NewServer(service, logger), logger)

	agentErr := make(chan error, 1)
	go func() {
		if err := agent.Start(ctx); err != nil {
			logger.Error("Agent error", "error", err)
			agentErr <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received (SIGTERM/SIGINT)")
	case err := <-agentErr:
		logger.Error("Agent failed", "error", err)
	}

	logger.Info("Initiating graceful shutdown")
	cancel()

	if err := agent.Stop(); err != nil {
		logger.Error("Error stopping agent", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", "error", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down health server", "error", err)
	}

	logger.Info("Tracker agent shutdown complete")
}

// openStore returns the configured history store. The Postgres client is
// returned for health checks and shutdown; it is nil for the memory store.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (history.Store, *postgres.PostgresClient, error) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn("Using in-memory history store, history is lost on restart")
		return history.NewMemoryStore(), nil, nil
	}

	client := postgres.NewClient(cfg, logger)
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Connect(connectCtx); err != nil {
		return nil, nil, err
	}

	store := history.NewPostgresStore(client, logger)
	if err := store.Migrate(connectCtx); err != nil {
		client.Disconnect()
		return nil, nil, err
	}
	return store, client, nil
}

func openSettings(cfg *config.Config, redisClient redis.Client) history.SettingsProvider {
	if cfg.SettingsSource == config.SettingsRedis {
		return history.NewRedisSettings(redisClient)
	}
	return history.NewStaticSettings(cfg.MinDwell, cfg.MinDwellReturning)
}

func openZones(cfg *config.Config, redisClient redis.Client) (history.ZoneCatalog, error) {
	if cfg.ZonesFile != "" {
		return history.LoadZoneCatalog(cfg.ZonesFile)
	}
	return history.NewRedisZones(redisClient), nil
}

func startHealthServer(port int, checker *health.Checker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HandlerFunc())
	mux.HandleFunc("/health/detailed", checker.DetailedHandlerFunc())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info("Starting health check server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server error", "error", err)
		}
	}()

	return server
}

func startAPIServer(port int, apiServer *api.Server, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting query API server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	return server
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
