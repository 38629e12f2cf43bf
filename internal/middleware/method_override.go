package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// MethodOverrideField is the form field HTML forms use to tunnel PUT and DELETE.
const MethodOverrideField = "_method"

// MethodOverride rewrites a POST carrying _method=PUT|PATCH|DELETE (form field
// or X-HTTP-Method-Override header) to that method before routing.
func MethodOverride() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		override := c.Get("X-HTTP-Method-Override")
		if override == "" {
			override = c.FormValue(MethodOverrideField)
		}

		switch strings.ToUpper(strings.TrimSpace(override)) {
		case fiber.MethodPut:
			c.Method(fiber.MethodPut)
		case fiber.MethodPatch:
			c.Method(fiber.MethodPatch)
		case fiber.MethodDelete:
			c.Method(fiber.MethodDelete)
		}
		return c.Next()
	}
}
