package database

import "quill/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
// Order matters for AutoMigrate: referenced tables come first.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Permission{},
		&models.Role{},
		&models.User{},
		&models.Post{},
		&models.PasswordResetToken{},
	}
}
