package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"leadflow/config"
)

// CronAuth guards the scheduler-facing automation endpoints with a shared
// secret header. An unset secret leaves the endpoints open, which is only
// acceptable in development and is enforced at config load.
func CronAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := config.AppConfig.CronSecret
		if secret == "" {
			return c.Next()
		}

		provided := c.Get("X-Cron-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid cron secret",
			})
		}

		return c.Next()
	}
}
