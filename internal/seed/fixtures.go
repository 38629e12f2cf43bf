package seed

import (
	_ "embed"
	"fmt"
	"os"

	"quill/internal/validation"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures.yml
var defaultFixtures []byte

// RoleFixture is a role and the permission names it grants.
type RoleFixture struct {
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// UserFixture is an account created with a plaintext password.
type UserFixture struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// Fixtures is the document loaded from a fixtures file.
type Fixtures struct {
	Roles []RoleFixture `yaml:"roles"`
	Users []UserFixture `yaml:"users"`
}

// DefaultFixtures returns the fixtures compiled into the binary.
func DefaultFixtures() (*Fixtures, error) {
	return ParseFixtures(defaultFixtures)
}

// LoadFixtures reads fixtures from path. An empty path yields DefaultFixtures.
func LoadFixtures(path string) (*Fixtures, error) {
	if path == "" {
		return DefaultFixtures()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures decodes a YAML fixtures document and checks that every user
// references a declared role.
func ParseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}

	roles := make(map[string]bool, len(f.Roles))
	for _, r := range f.Roles {
		if r.Name == "" {
			return nil, fmt.Errorf("fixture role without a name")
		}
		roles[r.Name] = true
	}
	for _, u := range f.Users {
		if err := validation.ValidateUsername(u.Username); err != nil {
			return nil, fmt.Errorf("fixture user %q: %w", u.Username, err)
		}
		if err := validation.ValidateEmail(u.Email); err != nil {
			return nil, fmt.Errorf("fixture user %s: %w", u.Username, err)
		}
		if u.Role != "" && !roles[u.Role] {
			return nil, fmt.Errorf("fixture user %s references unknown role %q", u.Username, u.Role)
		}
	}
	return &f, nil
}
