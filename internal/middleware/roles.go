// Package middleware contains HTTP middleware functions for the Company Chat server.
// This file handles role-based access control (RBAC) — checking that the
// authenticated user has permission to perform the requested action.
package middleware

import "github.com/gofiber/fiber/v2"

// RequireRole returns a middleware handler that allows only users whose role
// matches one of the provided roles. Returns HTTP 403 Forbidden otherwise.
//
//	api.Post("/companies", middleware.RequireRole("admin"), handlers.CreateCompany(dir))
//
// RequireRole must be used AFTER Auth, which populates the "userRole" local.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userRole, ok := c.Locals(LocalUserRole).(string)
		if !ok || userRole == "" {
			// Auth either wasn't applied or stored no role: authenticated
			// perhaps, but not authorized.
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "forbidden",
			})
		}

		for _, role := range roles {
			if userRole == role {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient permissions",
		})
	}
}
