package repository

import (
	"context"

	"quill/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoleRepository manages roles and their many-to-many permission links.
type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	GetByName(ctx context.Context, name string) (*models.Role, error)
	AttachPermissions(ctx context.Context, roleID uint, names ...string) error
	PermissionsForRole(ctx context.Context, roleID uint) ([]models.Permission, error)
}

type roleRepository struct {
	db *gorm.DB
}

// NewRoleRepository returns a new RoleRepository implementation.
func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) Create(ctx context.Context, role *models.Role) error {
	if err := r.db.WithContext(ctx).Create(role).Error; err != nil {
		if isUniqueViolation(err) {
			return models.NewValidationError("Role already exists")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *roleRepository) GetByName(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	if err := r.db.WithContext(ctx).Preload("Permissions").Where("name = ?", name).First(&role).Error; err != nil {
		return nil, translateFindError(err, "Role", name)
	}
	return &role, nil
}

// AttachPermissions links the named permissions to the role, creating any
// permission that does not exist yet. Existing links are kept.
func (r *roleRepository) AttachPermissions(ctx context.Context, roleID uint, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		role := models.Role{ID: roleID}
		if err := tx.First(&role).Error; err != nil {
			return translateFindError(err, "Role", roleID)
		}

		perms := make([]models.Permission, 0, len(names))
		for _, name := range names {
			perms = append(perms, models.Permission{Name: name})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&perms).Error; err != nil {
			return models.NewInternalError(err)
		}

		var stored []models.Permission
		if err := tx.Where("name IN ?", names).Find(&stored).Error; err != nil {
			return models.NewInternalError(err)
		}
		if err := tx.Model(&role).Association("Permissions").Append(&stored); err != nil {
			return models.NewInternalError(err)
		}
		return nil
	})
}

func (r *roleRepository) PermissionsForRole(ctx context.Context, roleID uint) ([]models.Permission, error) {
	role := models.Role{ID: roleID}
	var perms []models.Permission
	if err := r.db.WithContext(ctx).Model(&role).Order("name ASC").Association("Permissions").Find(&perms); err != nil {
		return nil, models.NewInternalError(err)
	}
	return perms, nil
}
