package service

import (
	"context"
	"log/slog"
	"strings"

	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

// AuthService verifies credentials. Token issuance stays with the HTTP layer.
type AuthService struct {
	userRepo repository.UserRepository
}

type LoginInput struct {
	Email    string
	Password string
}

func NewAuthService(userRepo repository.UserRepository) *AuthService {
	return &AuthService{userRepo: userRepo}
}

// Login returns the user matching the email and password. Unknown emails
// and wrong passwords fail identically.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*models.User, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || in.Password == "" {
		return nil, models.NewValidationError("Email and password are required")
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Same bcrypt work as a real comparison.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(in.Password))
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		middleware.Logger.InfoContext(ctx, "login rejected", slog.Uint64("user_id", uint64(user.ID)))
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	return user, nil
}

// Principal resolves the effective permissions of a user.
func (s *AuthService) Principal(ctx context.Context, userID uint) (models.Principal, error) {
	return s.userRepo.GetPrincipal(ctx, userID)
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("quill-placeholder-password"), bcrypt.DefaultCost)
