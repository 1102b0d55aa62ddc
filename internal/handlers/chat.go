package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// RequireUpgrade rejects plain HTTP requests to the chat endpoint with 426 so
// only websocket handshakes reach the upgrader.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
