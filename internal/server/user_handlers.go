package server

import (
	"sort"

	"quill/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

// GetCurrentUser handles GET /auth/me
// @Summary Current user
// @Description The authenticated account and the permissions of its role
// @Tags auth
// @Produce json
// @Success 200 {object} object{user=models.User,permissions=[]string}
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /auth/me [get]
func (s *Server) GetCurrentUser(c *fiber.Ctx) error {
	p, _ := middleware.PrincipalFrom(c)
	user, err := s.userRepo.GetByID(c.UserContext(), p.UserID)
	if err != nil {
		return s.respondError(c, err)
	}

	permissions := make([]string, 0, len(p.Permissions))
	for name := range p.Permissions {
		permissions = append(permissions, name)
	}
	sort.Strings(permissions)

	return c.JSON(fiber.Map{
		"user":        user,
		"permissions": permissions,
	})
}
