package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClientIP determines the caller address used for allowlisting. With a proxy
// header configured (e.g. CF-Connecting-IP or X-Forwarded-For) the first
// address in that header wins, otherwise the socket address is used.
func ClientIP(c *fiber.Ctx, proxyHeader string) string {
	if proxyHeader != "" {
		if raw := strings.TrimSpace(c.Get(proxyHeader)); raw != "" {
			// X-Forwarded-For can contain a list of IPs - the first one is the original client
			first := strings.TrimSpace(strings.Split(raw, ",")[0])
			if first != "" {
				return first
			}
		}
	}
	return c.IP()
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}
