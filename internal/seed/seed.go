package seed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"quill/internal/models"
	"quill/internal/repository"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	// PostsPerUser is the number of generated posts for every seeded user.
	PostsPerUser int
	// ExtraUsers adds generated accounts with the default role on top of the fixtures.
	ExtraUsers  int
	DefaultRole string
	MaxDays     int
	BatchSize   int
	ShouldClean bool
	DryRun      bool
	// FastHash hashes passwords with the minimum bcrypt cost.
	FastHash bool
	RandSeed int64
}

// Seeder applies fixtures and generated content to a database.
type Seeder struct {
	db      *gorm.DB
	opts    Options
	factory *Factory
	roles   repository.RoleRepository
}

// NewSeeder returns a Seeder writing to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	return &Seeder{
		db:      db,
		opts:    opts,
		factory: NewFactory(db, opts),
		roles:   repository.NewRoleRepository(db),
	}
}

// Run clears the blog tables when requested, applies fixtures and generates
// posts for every resulting user.
func (s *Seeder) Run(ctx context.Context, f *Fixtures) error {
	if s.opts.ShouldClean {
		if err := s.ClearAll(ctx); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}

	users, err := s.ApplyFixtures(ctx, f)
	if err != nil {
		return err
	}
	log.Printf("✓ %d fixture users available", len(users))

	for i := 0; i < s.opts.ExtraUsers; i++ {
		user, err := s.factory.CreateUser(func(u *models.User) {
			u.RoleID = s.roleID(ctx, s.opts.DefaultRole)
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		users = append(users, *user)
	}

	posts, err := s.SeedPosts(ctx, users)
	if err != nil {
		return err
	}
	log.Printf("✓ %d posts created", posts)
	return nil
}

// ApplyFixtures creates every fixture role with its permissions and every
// fixture user. It is idempotent: existing roles gain missing permissions and
// existing users (by email) are left as they are.
func (s *Seeder) ApplyFixtures(ctx context.Context, f *Fixtures) ([]models.User, error) {
	if f == nil {
		return nil, nil
	}
	if err := EnsureRoles(ctx, s.db, f.Roles); err != nil {
		return nil, err
	}

	users := make([]models.User, 0, len(f.Users))
	for _, fixture := range f.Users {
		email := strings.ToLower(strings.TrimSpace(fixture.Email))

		var user models.User
		err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
		switch {
		case err == nil:
			users = append(users, user)
			continue
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}

		password := fixture.Password
		if password == "" {
			password = defaultPassword
		}
		hash, err := s.factory.hashPassword(password)
		if err != nil {
			return nil, err
		}
		user = models.User{
			Username: fixture.Username,
			Email:    email,
			Password: hash,
			RoleID:   s.roleID(ctx, fixture.Role),
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user %s: %w", fixture.Username, err)
		}
		users = append(users, user)
	}
	return users, nil
}

// SeedPosts generates PostsPerUser posts for each user and returns how many were written.
func (s *Seeder) SeedPosts(ctx context.Context, users []models.User) (int, error) {
	if s.opts.PostsPerUser <= 0 || len(users) == 0 {
		return 0, nil
	}
	posts := make([]*models.Post, 0, len(users)*s.opts.PostsPerUser)
	for i := range users {
		for j := 0; j < s.opts.PostsPerUser; j++ {
			posts = append(posts, s.factory.BuildPost(&users[i]))
		}
	}
	if err := s.factory.CreatePostsBatch(ctx, posts); err != nil {
		return 0, fmt.Errorf("create posts: %w", err)
	}
	return len(posts), nil
}

// ClearAll removes posts, reset tokens, users and roles.
func (s *Seeder) ClearAll(ctx context.Context) error {
	log.Println("🗑️  Clearing existing data...")
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tables := []any{
			&models.Post{},
			&models.PasswordResetToken{},
			&models.User{},
		}
		for _, model := range tables {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		if err := tx.Exec("DELETE FROM role_permissions").Error; err != nil {
			return err
		}
		for _, model := range []any{&models.Role{}, &models.Permission{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Seeder) roleID(ctx context.Context, name string) *uint {
	if name == "" {
		return nil
	}
	role, err := s.roles.GetByName(ctx, name)
	if err != nil {
		return nil
	}
	return &role.ID
}

// EnsureRoles creates each role that is missing and attaches its permissions.
func EnsureRoles(ctx context.Context, db *gorm.DB, roles []RoleFixture) error {
	repo := repository.NewRoleRepository(db)
	for _, fixture := range roles {
		role, err := repo.GetByName(ctx, fixture.Name)
		if models.ErrorCode(err) == models.CodeNotFound {
			role = &models.Role{Name: fixture.Name}
			err = repo.Create(ctx, role)
		}
		if err != nil {
			return fmt.Errorf("ensure role %s: %w", fixture.Name, err)
		}
		if err := repo.AttachPermissions(ctx, role.ID, fixture.Permissions...); err != nil {
			return fmt.Errorf("attach permissions to %s: %w", fixture.Name, err)
		}
	}
	return nil
}
