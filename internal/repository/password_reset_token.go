package repository

import (
	"context"
	"time"

	"quill/internal/models"

	"gorm.io/gorm"
)

// PasswordResetTokenRepository persists password-reset tokens.
type PasswordResetTokenRepository interface {
	Create(ctx context.Context, token *models.PasswordResetToken) error
	FindByToken(ctx context.Context, token string) (*models.PasswordResetToken, error)
	FindFirstByTokenOrderByIDDesc(ctx context.Context, token string) (*models.PasswordResetToken, error)
	Expire(ctx context.Context, token string, now time.Time) (int64, error)
}

type passwordResetTokenRepository struct {
	db *gorm.DB
}

// NewPasswordResetTokenRepository returns a new PasswordResetTokenRepository implementation.
func NewPasswordResetTokenRepository(db *gorm.DB) PasswordResetTokenRepository {
	return &passwordResetTokenRepository{db: db}
}

func (r *passwordResetTokenRepository) Create(ctx context.Context, token *models.PasswordResetToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// FindByToken returns the oldest row carrying token.
func (r *passwordResetTokenRepository) FindByToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).Order("id ASC").First(&t).Error; err != nil {
		return nil, translateFindError(err, "PasswordResetToken", "<redacted>")
	}
	return &t, nil
}

// FindFirstByTokenOrderByIDDesc returns the newest row carrying token.
func (r *passwordResetTokenRepository) FindFirstByTokenOrderByIDDesc(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).Order("id DESC").First(&t).Error; err != nil {
		return nil, translateFindError(err, "PasswordResetToken", "<redacted>")
	}
	return &t, nil
}

// Expire moves the expiration of every still-valid row carrying token to
// the past sentinel. Already expired or unknown tokens affect no rows.
func (r *passwordResetTokenRepository) Expire(ctx context.Context, token string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PasswordResetToken{}).
		Where("token = ? AND expires_at > ?", token, now).
		Update("expires_at", models.ExpiredSentinel)
	if result.Error != nil {
		return 0, models.NewInternalError(result.Error)
	}
	return result.RowsAffected, nil
}
