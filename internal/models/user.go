package models

import (
	"time"
)

// Permission names known to the application.
const (
	// PermissionManageAllPosts lets the holder update and delete posts owned by other users.
	PermissionManageAllPosts = "manage-all-posts"
	// PermissionAccessAdmin grants entry to the admin panel.
	PermissionAccessAdmin = "access-admin"
)

// User represents an account that can author posts.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"unique;not null" json:"username"`
	Email     string    `gorm:"unique;not null" json:"email"`
	Password  string    `gorm:"not null" json:"-"`
	RoleID    *uint     `gorm:"index" json:"role_id,omitempty"`
	Role      *Role     `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role groups permissions. A user holds at most one role.
type Role struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"unique;not null" json:"name"`
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Permission is a named capability referenced by zero or more roles.
type Permission struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"unique;not null" json:"name"`
	Roles     []Role    `gorm:"many2many:role_permissions;" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal is the acting user of a request together with the effective
// permissions of its role.
type Principal struct {
	UserID      uint
	Permissions map[string]struct{}
}

// NewPrincipal builds a principal holding the given permission names.
func NewPrincipal(userID uint, permissions ...string) Principal {
	p := Principal{UserID: userID, Permissions: make(map[string]struct{}, len(permissions))}
	for _, name := range permissions {
		p.Permissions[name] = struct{}{}
	}
	return p
}

// Has reports whether the principal holds the named permission.
func (p Principal) Has(name string) bool {
	_, ok := p.Permissions[name]
	return ok
}

// PermissionNames returns the permission names held by the user's role.
func (u *User) PermissionNames() []string {
	if u.Role == nil {
		return nil
	}
	names := make([]string, 0, len(u.Role.Permissions))
	for _, perm := range u.Role.Permissions {
		names = append(names, perm.Name)
	}
	return names
}
