package bootstrap

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inbox_server/adapter/out/cache"
	"inbox_server/config"
	"inbox_server/core/service/ai"
	"inbox_server/core/service/auth"
	"inbox_server/core/service/mail"
	"inbox_server/core/service/notification"
	"inbox_server/internal/testutil"
)

func testDeps() *Dependencies {
	cfg := &config.Config{Environment: "test", AllowedOrigins: []string{"http://localhost:3000"}}
	store := testutil.NewMemoryCredentials()
	gmail := testutil.NewFakeMail("valid")
	refresher := auth.NewRefresher(nil, store)
	mailSvc := mail.NewService(gmail, refresher)

	return &Dependencies{
		Config:       cfg,
		Credentials:  store,
		FlagCache:    cache.NewMemoryFlagCache(0, 0),
		Refresher:    refresher,
		OAuthService: auth.NewOAuthService(nil, store, refresher),
		MailService:  mailSvc,
		AIService:    ai.NewService(nil, mailSvc, nil, ai.Models{}),
		Processor:    notification.NewProcessor(store, gmail, refresher, notification.ProcessorConfig{}),
		WatchService: notification.NewWatchService(gmail, store, refresher, ""),
	}
}

func TestRoutes(t *testing.T) {
	deps := testDeps()
	app := NewApp(deps.Config)
	RegisterRoutes(app, deps)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{fiber.MethodGet, "/health", "", fiber.StatusOK},
		{fiber.MethodGet, "/ready", "", fiber.StatusOK},
		{fiber.MethodGet, "/api/webhook/gmail", "", fiber.StatusOK},
		{fiber.MethodPost, "/api/webhook/gmail", `{"invalid":"data"}`, fiber.StatusBadRequest},
		{fiber.MethodGet, "/api/emails", "", fiber.StatusUnauthorized},
		{fiber.MethodGet, "/api/account", "", fiber.StatusUnauthorized},
		{fiber.MethodGet, "/api/emails/draft", "", fiber.StatusUnauthorized},
		{fiber.MethodGet, "/api/emails/context", "", fiber.StatusUnauthorized},
		{fiber.MethodPost, "/api/emails/reply", `{}`, fiber.StatusUnauthorized},
		// Missing secrets degrade to configuration errors
		{fiber.MethodGet, "/api/auth/google", "", fiber.StatusInternalServerError},
		{fiber.MethodPost, "/api/generate", `{"prompt":"x","type":"subject"}`, fiber.StatusInternalServerError},
		{fiber.MethodPost, "/api/autocomplete", `{"sentence":"hi"}`, fiber.StatusInternalServerError},
		{fiber.MethodPost, "/api/emails/tldr", `{"emailContent":"x"}`, fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		})
	}
}
