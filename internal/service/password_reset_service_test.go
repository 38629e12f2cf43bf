package service

import (
	"context"
	"testing"
	"time"

	"quill/internal/models"
	"quill/internal/repository"
	"quill/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type resetFixture struct {
	db    *gorm.DB
	svc   *PasswordResetService
	users repository.UserRepository
	user  *models.User
	clock time.Time
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	users := repository.NewUserRepository(db)
	f := &resetFixture{
		db:    db,
		users: users,
		user:  testutil.CreateUser(t, db, "forgetful"),
		clock: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewPasswordResetService(repository.NewPasswordResetTokenRepository(db), users, time.Hour)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func TestPasswordReset_CreateIsUnguessableAndBounded(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, f.user)
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, f.user)
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
	assert.Len(t, a.Token, 43)
	assert.True(t, a.ExpiresAt.Equal(f.clock.Add(time.Hour)))

	found, err := f.svc.FindByToken(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	_, err = f.svc.Create(ctx, nil)
	assertAppErrorCode(t, err, models.CodeValidation)
}

func TestPasswordReset_ValidityFollowsClock(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	tok, err := f.svc.Create(ctx, f.user)
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, tok.Token)
	require.NoError(t, err)

	f.clock = tok.ExpiresAt
	_, err = f.svc.Validate(ctx, tok.Token)
	assertAppErrorCode(t, err, models.CodeValidation)

	_, err = f.svc.Validate(ctx, "nope")
	assertAppErrorCode(t, err, models.CodeValidation)
}

func TestPasswordReset_ExpireIsIdempotent(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	tok, err := f.svc.Create(ctx, f.user)
	require.NoError(t, err)

	n, err := f.svc.Expire(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.svc.Expire(ctx, tok.Token)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.Expire(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	newest, err := f.svc.FindFirstByTokenOrderByIDDesc(ctx, tok.Token)
	require.NoError(t, err)
	assert.False(t, newest.IsValidAt(f.clock))
}

func TestPasswordReset_DuplicateTokensUseNewest(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	f.svc.newToken = func() (string, error) { return "fixed", nil }

	_, err := f.svc.Create(ctx, f.user)
	require.NoError(t, err)
	f.clock = f.clock.Add(30 * time.Minute)
	second, err := f.svc.Create(ctx, f.user)
	require.NoError(t, err)

	f.clock = f.clock.Add(45 * time.Minute)
	got, err := f.svc.Validate(ctx, "fixed")
	require.NoError(t, err, "newest duplicate is still valid")
	assert.Equal(t, second.ID, got.ID)
}

func TestPasswordReset_Reset(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	tok, err := f.svc.Create(ctx, f.user)
	require.NoError(t, err)

	err = f.svc.Reset(ctx, ResetPasswordInput{Token: tok.Token, Password: "short"})
	assertAppErrorCode(t, err, models.CodeValidation)

	require.NoError(t, f.svc.Reset(ctx, ResetPasswordInput{Token: tok.Token, Password: "BrandNewPass12!"}))

	user, err := f.users.GetByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("BrandNewPass12!")))

	err = f.svc.Reset(ctx, ResetPasswordInput{Token: tok.Token, Password: "AnotherPass12!"})
	assertAppErrorCode(t, err, models.CodeValidation)
}

func TestPasswordReset_Forgot(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()

	tok, err := f.svc.Forgot(ctx, "  Forgetful@Example.com ")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, f.user.ID, tok.UserID)

	tok, err = f.svc.Forgot(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.Nil(t, tok)

	_, err = f.svc.Forgot(ctx, "not-an-email")
	assertAppErrorCode(t, err, models.CodeValidation)
}
