package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/saaga0h/jeeves-rtls/pkg/mqtt"
	"github.com/saaga0h/jeeves-rtls/pkg/postgres"
	"github.com/saaga0h/jeeves-rtls/pkg/redis"
)

// pingTimeout bounds each dependency check of the detailed handler
const pingTimeout = 2 * time.Second

// DatabaseChecker reports the state of the history database
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) (*postgres.HealthStatus, error)
}

// Checker provides health check functionality for agents
type Checker struct {
	mqtt     mqtt.Client
	redis    redis.Client
	database DatabaseChecker
	logger   *slog.Logger
}

// NewChecker creates a new health checker. database may be nil when history
// is kept in memory.
func NewChecker(mqttClient mqtt.Client, redisClient redis.Client, database DatabaseChecker, logger *slog.Logger) *Checker {
	return &Checker{
		mqtt:     mqttClient,
		redis:    redisClient,
		database: database,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp"`
	Services  *Services `json:"services,omitempty"`
}

// Services represents the status of external dependencies
type Services struct {
	Redis    string                 `json:"redis"`
	MQTT     string                 `json:"mqtt"`
	Postgres *postgres.HealthStatus `json:"postgres,omitempty"`
}

// HandlerFunc returns 200 while the process is alive, without checking dependencies
func (h *Checker) HandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.write(w, http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// DetailedHandlerFunc returns a handler that checks all dependencies
func (h *Checker) DetailedHandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()

		services := &Services{
			Redis: "disconnected",
			MQTT:  "disconnected",
		}
		healthy := true

		if h.mqtt != nil && h.mqtt.IsConnected() {
			services.MQTT = "connected"
		} else {
			healthy = false
		}

		if h.redis != nil {
			if err := h.redis.Ping(ctx); err == nil {
				services.Redis = "connected"
			} else {
				h.logger.Warn("Redis health check failed", "error", err)
				healthy = false
			}
		} else {
			healthy = false
		}

		if h.database != nil {
			status, err := h.database.HealthCheck(ctx)
			if err != nil {
				status = &postgres.HealthStatus{Error: err.Error(), Timestamp: time.Now().UTC()}
			}
			services.Postgres = status
			if !status.Connected {
				healthy = false
			}
		}

		status := "healthy"
		statusCode := http.StatusOK
		if !healthy {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		h.write(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Services:  services,
		})
	}
}

func (h *Checker) write(w http.ResponseWriter, statusCode int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode health response", "error", err)
	}
}
