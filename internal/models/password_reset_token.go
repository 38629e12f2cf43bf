package models

import "time"

// ExpiredSentinel is the expiration written into a token when it is expired in place.
var ExpiredSentinel = time.Unix(0, 0).UTC()

// PasswordResetToken is a single-use credential for resetting a user's password.
// The token column is indexed but not unique: older rows may repeat a token.
type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Token     string    `gorm:"not null;index;size:128" json:"-"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsValidAt reports whether the token is still usable at now.
func (t *PasswordResetToken) IsValidAt(now time.Time) bool {
	return t != nil && t.ExpiresAt.After(now)
}
