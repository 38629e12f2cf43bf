package server

import (
	"errors"
	"strings"
	"time"

	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/service"

	"github.com/gofiber/fiber/v2"
)

type credentialsRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type resetRequest struct {
	Token    string `json:"token" form:"token"`
	Password string `json:"password" form:"password"`
}

// LoginPage handles GET /auth/login
func (s *Server) LoginPage(c *fiber.Ctx) error {
	return c.Render("auth/login", s.viewData(c, fiber.Map{"Title": "Log in"}))
}

// Login handles POST /auth/login
// @Summary User login
// @Description Authenticate with email and password. The token is also set as the quill_token cookie.
// @Tags auth
// @Accept json,x-www-form-urlencoded
// @Produce json
// @Param request body object{email=string,password=string} true "Login request"
// @Success 200 {object} object{token=string,user=models.User}
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respondError(c, models.NewValidationError("Invalid request body"))
	}

	user, err := s.authService.Login(c.UserContext(), service.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		if wantsJSON(c) || mapServiceError(err) >= fiber.StatusInternalServerError {
			return s.respondError(c, err)
		}
		return c.Status(mapServiceError(err)).Render("auth/login", s.viewData(c, fiber.Map{
			"Title": "Log in",
			"Email": req.Email,
			"Error": "Invalid email or password",
		}))
	}

	token, err := s.auth.IssueToken(user.ID, s.config.JWTTTL)
	if err != nil {
		return s.respondError(c, models.NewInternalError(err))
	}
	c.Cookie(&fiber.Cookie{
		Name:     middleware.AuthCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(s.config.JWTTTL),
		HTTPOnly: true,
		Secure:   s.config.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return redirectOrJSON(c, adminPostsPath, fiber.StatusOK, fiber.Map{
		"token": token,
		"user":  user,
	})
}

// Logout handles POST /auth/logout
// @Summary Logout
// @Tags auth
// @Success 200 {object} object{message=string}
// @Router /auth/logout [post]
func (s *Server) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.AuthCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   s.config.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return redirectOrJSON(c, "/blogs", fiber.StatusOK, fiber.Map{"message": "Logged out"})
}

// ForgotPasswordPage handles GET /auth/password/forgot
func (s *Server) ForgotPasswordPage(c *fiber.Ctx) error {
	return c.Render("auth/forgot", s.viewData(c, fiber.Map{"Title": "Reset password"}))
}

// ForgotPassword handles POST /auth/password/forgot
// @Summary Request a password reset
// @Description Always answers 202. The token is only returned when EXPOSE_RESET_TOKENS is enabled.
// @Tags auth
// @Accept json,x-www-form-urlencoded
// @Produce json
// @Param request body object{email=string} true "Account email"
// @Success 202 {object} object{message=string,token=string}
// @Failure 400 {object} models.ErrorResponse
// @Failure 429 {object} object{error=string}
// @Router /auth/password/forgot [post]
func (s *Server) ForgotPassword(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email" form:"email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.respondError(c, models.NewValidationError("Invalid request body"))
	}

	token, err := s.resetService.Forgot(c.UserContext(), req.Email)
	if err != nil {
		return s.respondError(c, err)
	}

	if !wantsJSON(c) {
		return c.Status(fiber.StatusAccepted).Render("auth/forgot", s.viewData(c, fiber.Map{
			"Title": "Reset password",
			"Sent":  true,
		}))
	}
	resp := fiber.Map{"message": "If the address belongs to an account, a reset token has been issued"}
	if token != nil && s.config.ExposeResetTokens {
		resp["token"] = token.Token
		resp["expires_at"] = token.ExpiresAt
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

// ResetPasswordPage handles GET /auth/password/reset?token=
// @Summary Check a reset token
// @Tags auth
// @Produce json,html
// @Param token query string true "Reset token"
// @Success 200 {object} object{valid=bool}
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/password/reset [get]
func (s *Server) ResetPasswordPage(c *fiber.Ctx) error {
	value := strings.TrimSpace(c.Query("token"))
	_, err := s.resetService.Validate(c.UserContext(), value)
	if err != nil && mapServiceError(err) >= fiber.StatusInternalServerError {
		return s.respondError(c, err)
	}

	if wantsJSON(c) {
		if err != nil {
			return s.respondError(c, err)
		}
		return c.JSON(fiber.Map{"valid": true})
	}

	status := fiber.StatusOK
	if err != nil {
		status = fiber.StatusBadRequest
	}
	return c.Status(status).Render("auth/reset", s.viewData(c, fiber.Map{
		"Title": "Choose a new password",
		"Token": value,
		"Valid": err == nil,
	}))
}

// ResetPassword handles POST /auth/password/reset
// @Summary Reset a password
// @Tags auth
// @Accept json,x-www-form-urlencoded
// @Produce json
// @Param request body object{token=string,password=string} true "Reset request"
// @Success 200 {object} object{message=string}
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/password/reset [post]
func (s *Server) ResetPassword(c *fiber.Ctx) error {
	var req resetRequest
	if err := c.BodyParser(&req); err != nil {
		return s.respondError(c, models.NewValidationError("Invalid request body"))
	}

	err := s.resetService.Reset(c.UserContext(), service.ResetPasswordInput{Token: req.Token, Password: req.Password})
	if err != nil {
		if wantsJSON(c) || mapServiceError(err) >= fiber.StatusInternalServerError {
			return s.respondError(c, err)
		}
		var message string
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
		return c.Status(mapServiceError(err)).Render("auth/reset", s.viewData(c, fiber.Map{
			"Title": "Choose a new password",
			"Token": req.Token,
			"Valid": true,
			"Error": message,
		}))
	}

	return redirectOrJSON(c, "/auth/login", fiber.StatusOK, fiber.Map{"message": "Password updated"})
}
