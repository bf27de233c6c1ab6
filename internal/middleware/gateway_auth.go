package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/ragscale/api/pkg/response"
)

// GatewayAuthMiddleware reads user identity from X-User-* headers
// set by the gateway's forward-auth call to /auth/verify.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		// header values are reused by fasthttp after the handler returns
		c.Locals("userId", utils.CopyString(userID))
		c.Locals("email", utils.CopyString(c.Get("X-User-Email")))
		return c.Next()
	}
}
