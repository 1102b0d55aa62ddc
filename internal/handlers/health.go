package handlers

import "github.com/gofiber/fiber/v2"

// GroupCounter reports how many chat groups currently have members (chat.Registry).
type GroupCounter interface {
	Groups() int
}

// HealthCheck returns a handler for GET /health.
// It is intentionally lightweight — no database queries, no authentication —
// so load balancers and container health checks can call it as often as they like.
func HealthCheck(groups GroupCounter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "groups": groups.Groups()})
	}
}
