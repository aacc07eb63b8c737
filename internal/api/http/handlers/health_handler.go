package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/meter-service/internal/persistence"
)

const readinessTimeout = 2 * time.Second

// Pinger checks a dependency for liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	postgres    Pinger
	redis       Pinger
	poolStats   func() persistence.PoolStats
}

// NewHealthHandler returns a new handler instance. redis and poolStats may
// be nil.
func NewHealthHandler(serviceName, version string, postgres, redis Pinger, poolStats func() persistence.PoolStats) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		postgres:    postgres,
		redis:       redis,
		poolStats:   poolStats,
	}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready reports readiness. Only postgres gates readiness: redis backs
// login throttling, which fails open. A fully checked-out pool is busy,
// not down.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	depStatus := fiber.Map{}
	ready := true

	switch err := h.postgres.Ping(ctx); {
	case err == nil:
		depStatus["postgres"] = "ok"
	case errors.Is(err, persistence.ErrPoolExhausted):
		depStatus["postgres"] = "saturated"
	default:
		depStatus["postgres"] = err.Error()
		ready = false
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			depStatus["redis"] = "degraded: " + err.Error()
		} else {
			depStatus["redis"] = "ok"
		}
	}

	if h.poolStats != nil {
		stats := h.poolStats()
		depStatus["pool"] = fiber.Map{
			"capacity":  stats.Capacity,
			"idle":      stats.Idle,
			"in_use":    stats.InUse,
			"exhausted": stats.Exhausted,
		}
	}

	if ready {
		return c.JSON(fiber.Map{
			"status":       "ready",
			"dependencies": depStatus,
		})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": depStatus,
		},
	})
}
