// Package server contains the HTTP handlers and routing of the blog and its admin panel.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "quill/docs" // swagger docs
	"quill/internal/bootstrap"
	"quill/internal/cache"
	"quill/internal/config"
	"quill/internal/database"
	"quill/internal/featureflags"
	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/repository"
	"quill/internal/service"
	"quill/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const loginPath = "/auth/login"

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	auth           *middleware.Authenticator
	featureFlags   *featureflags.Manager
	covers         *storage.CoverStore
	userRepo       repository.UserRepository
	postRepo       repository.PostRepository
	tokenRepo      repository.PasswordResetTokenRepository
	postService    *service.PostService
	authService    *service.AuthService
	resetService   *service.PasswordResetService
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	db, redisClient, err := bootstrap.InitRuntime(context.Background(), cfg, bootstrap.Options{EnsureRoles: true})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, db, redisClient)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis and optionally
// performs explicit seeding.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, fmt.Errorf("server requires a config and a database")
	}

	if redisClient != nil {
		cache.SetClient(redisClient)
	}

	flags := featureflags.NewManager(cfg.FeatureFlags)
	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("quill-api"),
		featureFlags:   flags,
		covers: storage.NewCoverStore(cfg.UploadBasePath, cfg.UploadMaxBytes(),
			storage.WithThumbnails(flags.On(featureflags.CoverThumbnails))),
		userRepo:  repository.NewUserRepository(db),
		postRepo:  repository.NewPostRepository(db),
		tokenRepo: repository.NewPasswordResetTokenRepository(db),
	}

	server.postService = service.NewPostService(server.postRepo, server.covers, flags, cfg.PageSizeDefault)
	server.authService = service.NewAuthService(server.userRepo)
	server.resetService = service.NewPasswordResetService(server.tokenRepo, server.userRepo, cfg.PasswordResetTTL)
	server.auth = middleware.NewAuthenticator(cfg.JWTSecret, server.authService.Principal)

	return server, nil
}

// App builds the Fiber application with middleware and routes installed.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:      "Quill",
		BodyLimit:    int(s.config.UploadMaxBytes()) + 1024*1024,
		Views:        NewViews(),
		ViewsLayout:  layoutMain,
		ErrorHandler: s.ErrorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-HTTP-Method-Override",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || !s.config.IsProduction()
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))

	app.Use(middleware.TracingMiddleware())

	// Forms tunnel PUT and DELETE through POST; must run before routing.
	app.Use(middleware.MethodOverride())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/swagger/*", swagger.HandlerDefault)
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Quill Metrics Dashboard",
	}))

	app.Static(uploadsPrefix, s.covers.BasePath(), fiber.Static{
		Browse:   false,
		Download: false,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/blogs")
	})

	// Public blog
	app.Get("/blogs", s.GetBlogs)
	app.Get("/blogs/:id", s.GetBlog)

	// Auth routes
	auth := app.Group("/auth")
	auth.Get("/login", s.LoginPage)
	auth.Post("/login", middleware.RateLimit(s.redis, 10, 5*time.Minute, "login"), s.Login)
	auth.Post("/logout", s.Logout)
	auth.Get("/password/forgot", s.ForgotPasswordPage)
	auth.Post("/password/forgot", middleware.RateLimit(s.redis, 5, 15*time.Minute, "password_forgot"), s.ForgotPassword)
	auth.Get("/password/reset", middleware.RateLimit(s.redis, 30, 15*time.Minute, "password_reset_check"), s.ResetPasswordPage)
	auth.Post("/password/reset", middleware.RateLimit(s.redis, 10, 15*time.Minute, "password_reset"), s.ResetPassword)
	auth.Get("/me", s.AuthRequired(), s.GetCurrentUser)

	// Admin panel
	admin := app.Group("/admin", s.AuthRequired(), middleware.RequirePermission(models.PermissionAccessAdmin))
	admin.Get("/blogs", s.AdminListPosts)
	admin.Get("/blog/create", s.NewPostForm)
	admin.Post("/blog/create", s.CreatePost)
	admin.Get("/blog/edit/:id", s.EditPostForm)
	admin.Put("/blog/update", s.UpdatePost)
	admin.Delete("/blog/destroy/:id", s.DeletePost)
	admin.Delete("/blog/destroy", s.BatchDeletePosts)
	admin.Get("/flags", s.GetFeatureFlags)
}

// AuthRequired sends browsers without a session to the login page and
// otherwise defers to the token authenticator.
func (s *Server) AuthRequired() fiber.Handler {
	authenticate := s.auth.AuthRequired()
	return func(c *fiber.Ctx) error {
		if !wantsJSON(c) && c.Get(fiber.HeaderAuthorization) == "" && c.Cookies(middleware.AuthCookieName) == "" {
			return c.Redirect(loginPath)
		}
		return authenticate(c)
	}
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	// The cache is optional; without redis the blog serves uncached.
	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"flags": s.featureFlags.Snapshot(0),
		"time":  time.Now(),
	})
}

// Start builds the app and listens on the configured port.
func (s *Server) Start() error {
	app := s.App()
	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port),
		slog.String("uploads", s.covers.BasePath()),
		slog.String("flags", strings.Join(s.featureFlags.Names(), ",")))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
