package controller

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rrbip/batirama-connect-sub002/internal/pkg/serverutils"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

type IHealthController interface {
	RegisterRoutes(r fiber.Router)
	Health(ctx *fiber.Ctx) error
}

type healthController struct {
	checks map[string]HealthCheck
}

func NewHealthController(checks map[string]HealthCheck) IHealthController {
	return &healthController{checks: checks}
}

func (c *healthController) RegisterRoutes(r fiber.Router) {
	r.Get("/health", c.Health)
}

func (c *healthController) Health(ctx *fiber.Ctx) error {
	checkCtx, cancel := context.WithTimeout(ctx.UserContext(), 3*time.Second)
	defer cancel()

	status := make(map[string]string, len(c.checks))
	healthy := true
	for name, check := range c.checks {
		if check(checkCtx) {
			status[name] = "up"
			continue
		}
		status[name] = "down"
		healthy = false
	}

	if !healthy {
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(serverutils.BaseResponse[map[string]string]{
			Success: false,
			Code:    fiber.StatusServiceUnavailable,
			Message: "Degraded",
			Data:    status,
		})
	}
	return ctx.JSON(serverutils.SuccessResponse("Healthy", status))
}
