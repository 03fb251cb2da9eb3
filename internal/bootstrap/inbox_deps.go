package bootstrap

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	httpadapter "inbox_server/adapter/in/http"
	"inbox_server/adapter/out/cache"
	"inbox_server/adapter/out/llm"
	"inbox_server/adapter/out/mongodb"
	"inbox_server/adapter/out/persistence"
	"inbox_server/adapter/out/provider/gmail"
	"inbox_server/adapter/out/provider/google"
	"inbox_server/config"
	"inbox_server/core/port/out"
	"inbox_server/core/service/ai"
	"inbox_server/core/service/auth"
	"inbox_server/core/service/mail"
	"inbox_server/core/service/notification"
	"inbox_server/infra/database"
	rediscache "inbox_server/pkg/cache"
	"inbox_server/pkg/crypto"
	"inbox_server/pkg/logger"
)

type Dependencies struct {
	Config  *config.Config
	MongoDB *mongo.Client
	SQLDB   *sqlx.DB
	Redis   *redis.Client

	// Repositories
	Credentials out.CredentialRepository
	FlagCache   out.FlagCache

	// Providers
	GmailClient *gmail.Client
	OAuthClient *google.OAuthClient
	LLMClient   *llm.Client

	// Services
	Refresher    *auth.Refresher
	OAuthService *auth.OAuthService
	MailService  *mail.Service
	AIService    *ai.Service
	Processor    *notification.Processor
	WatchService *notification.WatchService
}

// NewDependencies connects the stores and builds every service. Missing
// Google or Groq secrets leave the matching provider unset; the services then
// answer with a configuration error instead of failing startup.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Token encryption at rest
	var enc *crypto.Encryptor
	if cfg.EncryptionKey != "" {
		e, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			return nil, nil, err
		}
		enc = e
		logger.Info("Token encryption enabled")
	}

	// Credential store: Postgres when DATABASE_URL is set, MongoDB otherwise
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		deps.SQLDB = db
		cleanups = append(cleanups, func() { db.Close() })

		adapter := persistence.NewCredentialAdapter(db, enc)
		if err := adapter.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Credentials = adapter
		logger.Info("Credential store: Postgres")
	} else {
		client, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			return nil, nil, err
		}
		deps.MongoDB = client
		cleanups = append(cleanups, func() { _ = client.Disconnect(context.Background()) })

		adapter := mongodb.NewCredentialAdapter(client.Database(cfg.MongoDBName), enc)
		if err := adapter.EnsureIndexes(ctx); err != nil {
			logger.Warn("Failed to ensure MongoDB indexes: %v", err)
		}
		deps.Credentials = adapter
		logger.Info("Credential store: MongoDB (%s)", cfg.MongoDBName)
	}

	// Redis (optional, backs the flag cache)
	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed, using in-process flag cache: %v", err)
		} else {
			deps.Redis = client
			cleanups = append(cleanups, func() { _ = client.Close() })
		}
	}
	if deps.Redis != nil {
		deps.FlagCache = cache.NewRedisFlagCache(rediscache.NewRedisCache(deps.Redis, "inbox:"), cfg.FlagCacheSize, cfg.FlagCacheTTL)
	} else {
		deps.FlagCache = cache.NewMemoryFlagCache(cfg.FlagCacheSize, cfg.FlagCacheTTL)
	}

	// Providers
	deps.GmailClient = gmail.NewClient(gmail.Config{Endpoint: cfg.GmailEndpoint})

	var oauthProvider out.OAuthProvider
	if cfg.Google.Configured() {
		deps.OAuthClient = google.NewOAuthClient(google.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		})
		oauthProvider = deps.OAuthClient
	} else {
		if cfg.GoogleError != nil {
			logger.Warn("GOOGLE_CLIENT_SECRETS is invalid: %v", cfg.GoogleError)
		}
		logger.Warn("Google OAuth is not configured, sign-in and token refresh are disabled")
	}

	var llmClient out.LLMClient
	if cfg.GroqAPIKey != "" {
		deps.LLMClient = llm.NewClient(llm.ClientConfig{APIKey: cfg.GroqAPIKey, BaseURL: cfg.GroqBaseURL})
		llmClient = deps.LLMClient
	} else {
		logger.Warn("GROQ_API_KEY is not set, AI routes are disabled")
	}

	// Services
	deps.Refresher = auth.NewRefresher(oauthProvider, deps.Credentials)
	deps.OAuthService = auth.NewOAuthService(oauthProvider, deps.Credentials, deps.Refresher)
	deps.MailService = mail.NewService(deps.GmailClient, deps.Refresher)
	deps.AIService = ai.NewService(llmClient, deps.MailService, deps.FlagCache, ai.Models{
		Generate: cfg.LLMModel,
		Summary:  cfg.LLMSummaryModel,
		Flag:     cfg.LLMFlagModel,
		Compose:  cfg.LLMComposeModel,
	})
	deps.Processor = notification.NewProcessor(deps.Credentials, deps.GmailClient, deps.Refresher, notification.ProcessorConfig{
		MaxResults: cfg.WebhookMaxResults,
		Workers:    cfg.WebhookFetchWorkers,
	})
	deps.WatchService = notification.NewWatchService(deps.GmailClient, deps.Credentials, deps.Refresher, cfg.PubSubTopic)

	return deps, cleanup, nil
}

// HealthChecks returns a ping per connected store.
func (d *Dependencies) HealthChecks() map[string]httpadapter.PingFunc {
	checks := make(map[string]httpadapter.PingFunc)
	if d.MongoDB != nil {
		checks["mongodb"] = func(ctx context.Context) error { return d.MongoDB.Ping(ctx, nil) }
	}
	if d.SQLDB != nil {
		checks["postgres"] = d.SQLDB.PingContext
	}
	if d.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }
	}
	return checks
}
