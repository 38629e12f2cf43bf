package seed

import (
	"context"
	"testing"

	"quill/internal/models"
	"quill/internal/repository"
	"quill/internal/testutil"

	"golang.org/x/crypto/bcrypt"
)

func TestDefaultFixtures(t *testing.T) {
	f, err := DefaultFixtures()
	if err != nil {
		t.Fatalf("default fixtures: %v", err)
	}
	if len(f.Roles) == 0 || len(f.Users) == 0 {
		t.Fatalf("expected roles and users, got %d roles %d users", len(f.Roles), len(f.Users))
	}
}

func TestParseFixtures_UnknownRole(t *testing.T) {
	doc := []byte(`
roles:
  - name: author
users:
  - username: ghost
    email: ghost@example.com
    role: editor
`)
	if _, err := ParseFixtures(doc); err == nil {
		t.Fatalf("expected an error for a user with an undeclared role")
	}
}

func TestParseFixtures_InvalidUser(t *testing.T) {
	doc := []byte(`
roles:
  - name: author
users:
  - username: _ghost
    email: ghost@example.com
    role: author
`)
	if _, err := ParseFixtures(doc); err == nil {
		t.Fatalf("expected an error for an invalid username")
	}
}

func TestParseFixtures_Malformed(t *testing.T) {
	if _, err := ParseFixtures([]byte("roles: [")); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestApplyFixtures_Idempotent(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	f, err := DefaultFixtures()
	if err != nil {
		t.Fatal(err)
	}

	s := NewSeeder(db, Options{FastHash: true, RandSeed: 7})
	first, err := s.ApplyFixtures(ctx, f)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := s.ApplyFixtures(ctx, f)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(first) != len(second) || first[0].ID != second[0].ID {
		t.Fatalf("expected the same users on re-apply")
	}

	var count int64
	db.Model(&models.User{}).Count(&count)
	if int(count) != len(f.Users) {
		t.Fatalf("expected %d users, got %d", len(f.Users), count)
	}

	principal, err := repository.NewUserRepository(db).GetPrincipal(ctx, first[0].ID)
	if err != nil {
		t.Fatalf("principal: %v", err)
	}
	if !principal.Has(models.PermissionManageAllPosts) || !principal.Has(models.PermissionAccessAdmin) {
		t.Fatalf("admin fixture should hold both permissions, got %v", principal.Permissions)
	}
	if bcrypt.CompareHashAndPassword([]byte(first[0].Password), []byte(f.Users[0].Password)) != nil {
		t.Fatalf("fixture password was not hashed from the fixture value")
	}
}

func TestSeeder_Run(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	f, err := DefaultFixtures()
	if err != nil {
		t.Fatal(err)
	}

	opts := Options{PostsPerUser: 3, ExtraUsers: 2, DefaultRole: "author", FastHash: true, RandSeed: 42, BatchSize: 4}
	if err := NewSeeder(db, opts).Run(context.Background(), f); err != nil {
		t.Fatalf("run: %v", err)
	}

	var users, posts int64
	db.Model(&models.User{}).Count(&users)
	db.Model(&models.Post{}).Count(&posts)
	wantUsers := int64(len(f.Users) + opts.ExtraUsers)
	if users != wantUsers {
		t.Fatalf("expected %d users, got %d", wantUsers, users)
	}
	if posts != wantUsers*int64(opts.PostsPerUser) {
		t.Fatalf("expected %d posts, got %d", wantUsers*int64(opts.PostsPerUser), posts)
	}

	opts.ShouldClean = true
	opts.PostsPerUser = 1
	opts.ExtraUsers = 0
	if err := NewSeeder(db, opts).Run(context.Background(), f); err != nil {
		t.Fatalf("clean run: %v", err)
	}
	db.Model(&models.Post{}).Count(&posts)
	if posts != int64(len(f.Users)) {
		t.Fatalf("expected %d posts after a clean run, got %d", len(f.Users), posts)
	}
}
