package bootstrap

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	httpadapter "inbox_server/adapter/in/http"
	"inbox_server/config"
	"inbox_server/infra/middleware"
	"inbox_server/pkg/logger"
)

func NewAPI(ctx context.Context, cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := NewApp(cfg)
	RegisterRoutes(app, deps)

	logger.Info("API server initialized successfully")
	return app, cleanup, nil
}

// NewApp builds the fiber app with the global middleware stack.
func NewApp(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Room for multipart sends with attachments
		BodyLimit: 25 * 1024 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())

	// AllowCredentials requires explicit origins
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,Retry-After",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	return app
}

// RegisterRoutes mounts every handler. Pub/Sub pushes are not rate limited.
func RegisterRoutes(app *fiber.App, deps *Dependencies) {
	session := httpadapter.Session{Secure: deps.Config.IsProduction()}

	httpadapter.NewHealthHandler(deps.HealthChecks()).Register(app)

	api := app.Group("/api")
	httpadapter.NewWebhookHandler(deps.Processor, deps.WatchService).Register(api)

	api.Use("/auth", middleware.Limiter(middleware.AuthLimit))
	api.Use("/emails/flagged", middleware.Limiter(middleware.AILimit))
	api.Use("/emails/summarize", middleware.Limiter(middleware.AILimit))
	api.Use("/generate", middleware.Limiter(middleware.AILimit))
	api.Use("/emails/tldr", middleware.Limiter(middleware.AILimit))
	api.Use("/generate-reply-choices", middleware.Limiter(middleware.AILimit))
	api.Use("/autocomplete", middleware.Limiter(middleware.AILimit))
	api.Use("/emails", middleware.Limiter(middleware.EmailLimit))
	api.Use("/account", middleware.Limiter(middleware.DefaultLimit))

	httpadapter.NewAuthHandler(deps.OAuthService, session).Register(api)
	httpadapter.NewAIHandler(deps.AIService, session).Register(api)
	httpadapter.NewEmailHandler(deps.MailService, session).Register(api)
}
