package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"

	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/observability"
	"quill/internal/repository"
	"quill/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultResetTokenTTL = 24 * time.Hour
	resetTokenBytes      = 32
)

// PasswordResetService issues and redeems password-reset tokens.
type PasswordResetService struct {
	tokens   repository.PasswordResetTokenRepository
	users    repository.UserRepository
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
}

type ResetPasswordInput struct {
	Token    string
	Password string
}

func NewPasswordResetService(
	tokens repository.PasswordResetTokenRepository,
	users repository.UserRepository,
	ttl time.Duration,
) *PasswordResetService {
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}
	return &PasswordResetService{
		tokens:   tokens,
		users:    users,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
		newToken: generateResetToken,
	}
}

// Create issues a fresh token for user, valid for the configured TTL.
func (s *PasswordResetService) Create(ctx context.Context, user *models.User) (*models.PasswordResetToken, error) {
	if user == nil || user.ID == 0 {
		return nil, models.NewValidationError("Invalid user")
	}
	value, err := s.newToken()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	token := &models.PasswordResetToken{
		Token:     value,
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Forgot issues a token for the account with email. Unknown addresses
// return nil without error so callers cannot probe for accounts.
func (s *PasswordResetService) Forgot(ctx context.Context, email string) (token *models.PasswordResetToken, err error) {
	ctx, span := observability.StartSpan(ctx, "password_reset", "forgot")
	defer func() { observability.EndSpan(span, err) }()

	email = strings.TrimSpace(strings.ToLower(email))
	if err := validation.ValidateEmail(email); err != nil {
		return nil, models.NewFieldValidationError(models.FieldErrors{{Field: "email", Code: models.FieldInvalid}})
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		middleware.Logger.InfoContext(ctx, "password reset requested for unknown email")
		return nil, nil
	}
	token, err = s.Create(ctx, user)
	if err != nil {
		return nil, err
	}
	middleware.Logger.InfoContext(ctx, "password reset token issued", slog.Uint64("user_id", uint64(user.ID)))
	return token, nil
}

// FindByToken returns the oldest row carrying value.
func (s *PasswordResetService) FindByToken(ctx context.Context, value string) (*models.PasswordResetToken, error) {
	return s.tokens.FindByToken(ctx, value)
}

// FindFirstByTokenOrderByIDDesc returns the newest row carrying value.
func (s *PasswordResetService) FindFirstByTokenOrderByIDDesc(ctx context.Context, value string) (*models.PasswordResetToken, error) {
	return s.tokens.FindFirstByTokenOrderByIDDesc(ctx, value)
}

// Expire invalidates value and returns how many rows it changed.
func (s *PasswordResetService) Expire(ctx context.Context, value string) (int64, error) {
	return s.tokens.Expire(ctx, value, s.now())
}

// Validate returns the newest token row for value when it is still usable.
func (s *PasswordResetService) Validate(ctx context.Context, value string) (*models.PasswordResetToken, error) {
	if strings.TrimSpace(value) == "" {
		return nil, models.NewValidationError("Invalid or expired token")
	}
	token, err := s.tokens.FindFirstByTokenOrderByIDDesc(ctx, value)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return nil, models.NewValidationError("Invalid or expired token")
		}
		return nil, err
	}
	if !token.IsValidAt(s.now()) {
		return nil, models.NewValidationError("Invalid or expired token")
	}
	return token, nil
}

// Reset sets a new password for the token's user and expires the token.
func (s *PasswordResetService) Reset(ctx context.Context, in ResetPasswordInput) (err error) {
	ctx, span := observability.StartSpan(ctx, "password_reset", "reset")
	defer func() { observability.EndSpan(span, err) }()

	if err := validation.ValidatePassword(in.Password); err != nil {
		return models.NewValidationError(err.Error())
	}
	token, err := s.Validate(ctx, in.Token)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.NewInternalError(err)
	}

	// Expire first so a concurrent redemption of the same token loses.
	n, err := s.tokens.Expire(ctx, token.Token, s.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return models.NewValidationError("Invalid or expired token")
	}
	if err := s.users.UpdatePassword(ctx, token.UserID, string(hash)); err != nil {
		return err
	}

	middleware.Logger.InfoContext(ctx, "password reset token expired", slog.Uint64("user_id", uint64(token.UserID)))
	return nil
}

func generateResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
