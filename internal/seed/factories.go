// Package seed provides helpers to create demo data for the blog database:
// built-in roles, fixture accounts and generated posts. These helpers are
// intended for development and testing only.
package seed

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"quill/internal/models"
	"quill/internal/validation"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const defaultPassword = "Password123!"

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by the seeder and tests.
type Factory struct {
	db    *gorm.DB
	opts  Options
	faker *gofakeit.Faker
	now   func() time.Time
	// synthetic ID counter when running in DryRun mode
	nextID uint
}

// NewFactory creates a new Factory bound to the provided Gorm DB. A zero
// opts.RandSeed seeds the faker from the clock.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{db: db, opts: opts, faker: gofakeit.New(seed), now: time.Now, nextID: 1000}
}

// BuildPost constructs a post owned by user without persisting it. Roughly
// three in four generated posts are published; created_at is spread over
// the last MaxDays days.
func (f *Factory) BuildPost(user *models.User, overrides ...func(*models.Post)) *models.Post {
	title := strings.TrimSuffix(f.faker.Sentence(f.faker.Number(3, 8)), ".")
	if len([]rune(title)) > validation.MaxTitleLength {
		title = string([]rune(title)[:validation.MaxTitleLength])
	}

	post := &models.Post{
		UserID:      user.ID,
		Title:       title,
		Content:     f.faker.Paragraph(f.faker.Number(2, 5), f.faker.Number(3, 6), f.faker.Number(8, 16), "\n\n"),
		Description: f.faker.Sentence(12),
		Status:      f.faker.Number(1, 4) != 1,
	}

	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	offset := time.Duration(f.faker.Number(0, maxDays*24*60)) * time.Minute
	post.CreatedAt = f.now().Add(-offset)
	post.UpdatedAt = post.CreatedAt

	for _, override := range overrides {
		override(post)
	}
	return post
}

// CreatePostsBatch persists multiple posts in a single DB call when possible.
func (f *Factory) CreatePostsBatch(ctx context.Context, posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	if f.opts.DryRun {
		for _, p := range posts {
			f.nextID++
			p.ID = f.nextID
		}
		log.Printf("[dry-run] CreatePostsBatch: %d posts (no DB write)", len(posts))
		return nil
	}
	batch := f.opts.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return f.db.WithContext(ctx).CreateInBatches(posts, batch).Error
}

// CreateUser constructs and persists a sample `models.User` holding the
// default password. Optional override functions may modify the generated
// user before saving.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	username := fmt.Sprintf("%s%d", strings.ToLower(f.faker.FirstName()), f.faker.Number(100, 999))
	user := &models.User{
		Username: username,
		Email:    username + "@" + f.faker.DomainName(),
	}

	hash, err := f.hashPassword(defaultPassword)
	if err != nil {
		return nil, err
	}
	user.Password = hash

	for _, override := range overrides {
		override(user)
	}

	if f.opts.DryRun {
		f.nextID++
		user.ID = f.nextID
		log.Printf("[dry-run] CreateUser: %s <%s>", user.Username, user.Email)
		return user, nil
	}

	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (f *Factory) hashPassword(password string) (string, error) {
	cost := bcrypt.DefaultCost
	if f.opts.FastHash {
		cost = bcrypt.MinCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
