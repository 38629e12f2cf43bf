// Package bootstrap wires the runtime dependencies shared by the server and
// the command line tools.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"quill/internal/cache"
	"quill/internal/config"
	"quill/internal/database"
	"quill/internal/middleware"
	"quill/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// EnsureRoles creates the built-in roles and permissions when missing.
	EnsureRoles bool
}

// InitRuntime connects to DB (which applies the schema) and Redis, and
// optionally installs the built-in roles. Redis is optional: the returned
// client is nil when it cannot be reached.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()

	if opts.EnsureRoles {
		if err := ensureBuiltInRoles(ctx, db); err != nil {
			return nil, nil, fmt.Errorf("failed to ensure built-in roles: %w", err)
		}
	}

	return db, r, nil
}

func ensureBuiltInRoles(ctx context.Context, db *gorm.DB) error {
	f, err := seed.DefaultFixtures()
	if err != nil {
		return err
	}
	if err := seed.EnsureRoles(ctx, db, f.Roles); err != nil {
		return err
	}
	middleware.Logger.Info("built-in roles ensured", slog.Int("roles", len(f.Roles)))
	return nil
}
