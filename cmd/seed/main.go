// Command main runs the database seeder for Quill.
package main

import (
	"context"
	"flag"
	"log"

	"quill/internal/bootstrap"
	"quill/internal/config"
	"quill/internal/seed"
)

func main() {
	fixtures := flag.String("fixtures", "", "Path to a fixtures YAML file (defaults to the built-in fixtures)")
	postsPerUser := flag.Int("posts", 20, "Number of posts to generate per user")
	extraUsers := flag.Int("users", 0, "Number of additional generated users")
	defaultRole := flag.String("role", "author", "Role given to generated users")
	shouldClean := flag.Bool("clean", false, "Clean database before seeding")
	dryRun := flag.Bool("dry-run", false, "Build data without writing posts or generated users")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d posts per user, %d extra users, clean=%v\n", *postsPerUser, *extraUsers, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("❌ Refusing to seed a production database")
	}

	f, err := seed.LoadFixtures(*fixtures)
	if err != nil {
		log.Fatalf("❌ Fixtures: %v", err)
	}

	ctx := context.Background()
	db, _, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s := seed.NewSeeder(db, seed.Options{
		PostsPerUser: *postsPerUser,
		ExtraUsers:   *extraUsers,
		DefaultRole:  *defaultRole,
		ShouldClean:  *shouldClean,
		DryRun:       *dryRun,
		MaxDays:      90,
		BatchSize:    100,
	})
	if err := s.Run(ctx, f); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("✨ All done! Fixture accounts use the passwords listed in the fixtures file.")
}
