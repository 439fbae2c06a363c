package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/franzego/notifyhub/pkg/circuitbreaker"
	"github.com/gin-gonic/gin"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

type RedisPinger interface {
	Ping(ctx context.Context) error
}

// RedisPingFunc adapts a ping call to RedisPinger.
type RedisPingFunc func(ctx context.Context) error

func (f RedisPingFunc) Ping(ctx context.Context) error { return f(ctx) }

type BrokerStatus interface {
	IsConnected() bool
}

type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

type HealthHandler struct {
	redis    RedisPinger
	broker   BrokerStatus
	users    UserLookup
	channels ChannelStatus
	version  string
}

// NewHealthHandler builds the health check. broker may be nil when the
// service runs without RabbitMQ.
func NewHealthHandler(redis RedisPinger, broker BrokerStatus, users UserLookup, channels ChannelStatus, version string) *HealthHandler {
	return &HealthHandler{
		redis:    redis,
		broker:   broker,
		users:    users,
		channels: channels,
		version:  version,
	}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)

	if err := h.redis.Ping(ctx); err == nil {
		checks["redis"] = statusHealthy
	} else {
		checks["redis"] = statusUnhealthy
	}

	switch {
	case h.broker == nil:
		checks["rabbitmq"] = "disabled"
	case h.broker.IsConnected():
		checks["rabbitmq"] = statusHealthy
	default:
		checks["rabbitmq"] = statusDegraded
	}

	// a missing health-check user still proves the directory answers
	_, err := h.users.GetUser(ctx, "health-check")
	switch {
	case err == nil, errors.Is(err, apperr.ErrNotFound):
		checks["user_service"] = statusHealthy
	default:
		checks["user_service"] = statusDegraded
		if circuitbreaker.IsOpen(err) {
			checks["user_service_circuit"] = "open"
		}
	}

	overallStatus := statusHealthy
	for _, status := range checks {
		if status == statusUnhealthy {
			overallStatus = statusUnhealthy
			break
		} else if status == statusDegraded {
			overallStatus = statusDegraded
		}
	}

	statusCode := http.StatusOK
	if overallStatus == statusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
		"channels":  h.channels.Availability(),
		"version":   h.version,
	})
}
