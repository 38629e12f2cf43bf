// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"

	"quill/internal/database"
	"quill/internal/models"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewSQLiteDB opens an isolated in-memory database with the full schema.
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()
	// A named shared-cache DSN keeps every pooled connection on the same database.
	dsn := fmt.Sprintf("file:quill_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// CreateUser inserts a user whose role holds permissions. The password is
// "Password123!" unless the user already carries a hash.
func CreateUser(t testing.TB, db *gorm.DB, username string, permissions ...string) *models.User {
	t.Helper()
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("Password123!"), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: string(hash),
	}

	if len(permissions) > 0 {
		role := models.Role{Name: "role-" + username}
		for _, name := range permissions {
			var perm models.Permission
			require.NoError(t, db.WithContext(ctx).Where(models.Permission{Name: name}).FirstOrCreate(&perm).Error)
			role.Permissions = append(role.Permissions, perm)
		}
		require.NoError(t, db.WithContext(ctx).Create(&role).Error)
		user.RoleID = &role.ID
	}

	require.NoError(t, db.WithContext(ctx).Create(user).Error)
	return user
}

// TinyPNG returns an in-memory PNG of the requested dimensions.
func TinyPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	buf := bytes.NewBuffer(nil)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}
