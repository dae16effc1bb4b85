package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Pinger is an interface for health check ping operations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports engine liveness and database reachability.
type HealthHandler struct {
	pool Pinger
}

// NewHealthHandler creates a HealthHandler backed by the given database pool.
func NewHealthHandler(pool Pinger) *HealthHandler {
	return &HealthHandler{pool: pool}
}

// Check pings the database and reports per-dependency state. The database is
// the engine's only hard dependency: without it no coupon can be validated,
// so a failed ping answers 503 and the load balancer rotates the instance
// out.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	if err := h.pool.Ping(c.Context()); err != nil {
		log.Error().Err(err).Msg("health check failed, database unreachable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"service":  "fuel-coupon-engine",
			"status":   "degraded",
			"database": "unreachable",
		})
	}
	return c.JSON(fiber.Map{
		"service":  "fuel-coupon-engine",
		"status":   "ok",
		"database": "reachable",
	})
}
