package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// GoogleSecrets is the OAuth client registration read from GOOGLE_CLIENT_SECRETS.
type GoogleSecrets struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Configured reports whether enough of the client registration is present to talk to Google.
func (s *GoogleSecrets) Configured() bool {
	return s != nil && s.ClientID != "" && s.ClientSecret != ""
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Credential store
	MongoDBURL  string
	MongoDBName string
	DatabaseURL string // optional Postgres store; takes precedence over MongoDB when set
	RedisURL    string

	// Token encryption at rest (optional)
	EncryptionKey string

	// OAuth - Google
	Google      *GoogleSecrets
	GoogleError error // parse failure of GOOGLE_CLIENT_SECRETS, kept for diagnostics

	// Gmail push notifications
	PubSubTopic         string
	WebhookMaxResults   int
	WebhookFetchWorkers int

	// LLM (Groq, OpenAI-compatible API)
	GroqAPIKey      string
	GroqBaseURL     string
	LLMModel        string
	LLMSummaryModel string
	LLMFlagModel    string
	LLMComposeModel string

	// Flag classification cache
	FlagCacheSize int
	FlagCacheTTL  time.Duration

	// Gmail API
	GmailEndpoint string // override for tests and emulators

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	google, googleErr := ParseGoogleSecrets(getEnv("GOOGLE_CLIENT_SECRETS", "{}"))

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", ""),

		MongoDBURL:  getEnv("MONGODB_URI", "mongodb://localhost:27017/email-ai"),
		MongoDBName: getEnv("MONGODB_DATABASE", "email-ai"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		Google:      google,
		GoogleError: googleErr,

		PubSubTopic:         getEnv("PUBSUB_TOPIC", ""),
		WebhookMaxResults:   getEnvInt("WEBHOOK_MAX_RESULTS", 5),
		WebhookFetchWorkers: getEnvInt("WEBHOOK_FETCH_WORKERS", 5),

		GroqAPIKey:      getEnv("GROQ_API_KEY", ""),
		GroqBaseURL:     getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		LLMModel:        getEnv("LLM_MODEL", "compound-beta-mini"),
		LLMSummaryModel: getEnv("LLM_SUMMARY_MODEL", "llama-3.1-8b-instant"),
		LLMFlagModel:    getEnv("LLM_FLAG_MODEL", "llama-3.1-8b-instant"),
		LLMComposeModel: getEnv("LLM_COMPOSE_MODEL", "gemma2-9b-it"),

		FlagCacheSize: getEnvInt("FLAG_CACHE_SIZE", 20),
		FlagCacheTTL:  time.Duration(getEnvInt("FLAG_CACHE_TTL_MIN", 60)) * time.Minute,

		GmailEndpoint: getEnv("GMAIL_ENDPOINT", ""),

		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}

	if cfg.WebhookMaxResults <= 0 {
		cfg.WebhookMaxResults = 5
	}
	if cfg.FlagCacheSize <= 0 {
		cfg.FlagCacheSize = 20
	}

	return cfg, nil
}

// ParseGoogleSecrets reads the client_secret.json blob Google Cloud Console hands out.
// Both the "web" and "installed" client shapes are accepted.
func ParseGoogleSecrets(raw string) (*GoogleSecrets, error) {
	var blob struct {
		Web       *clientSecretsEntry `json:"web"`
		Installed *clientSecretsEntry `json:"installed"`
	}
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return &GoogleSecrets{}, fmt.Errorf("parse GOOGLE_CLIENT_SECRETS: %w", err)
	}

	entry := blob.Web
	if entry == nil {
		entry = blob.Installed
	}
	if entry == nil {
		return &GoogleSecrets{}, nil
	}

	secrets := &GoogleSecrets{
		ClientID:     entry.ClientID,
		ClientSecret: entry.ClientSecret,
	}
	if len(entry.RedirectURIs) > 0 {
		secrets.RedirectURL = entry.RedirectURIs[0]
	}
	return secrets, nil
}

type clientSecretsEntry struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
