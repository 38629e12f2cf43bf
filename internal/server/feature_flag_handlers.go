package server

import (
	"quill/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// GetFeatureFlags returns configured feature flags and evaluated state for current user.
// @Summary Feature flags
// @Tags admin
// @Produce json
// @Success 200 {object} object{names=[]string,evaluated=map[string]bool}
// @Security BearerAuth
// @Router /admin/flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	p, _ := middleware.PrincipalFrom(c)
	return c.JSON(fiber.Map{
		"names":     s.featureFlags.Names(),
		"evaluated": s.featureFlags.Snapshot(p.UserID),
	})
}
