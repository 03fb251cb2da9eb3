package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/core/service/ai"
	"inbox_server/core/service/auth"
	"inbox_server/core/service/mail"
	"inbox_server/core/service/notification"
	"inbox_server/infra/middleware"
	"inbox_server/internal/testutil"
)

const sessionCookie = "access_token=valid; refresh_token=r; user_email=a@b.com"

type fixture struct {
	app   *fiber.App
	mail  *testutil.FakeMail
	store *testutil.MemoryCredentials
	oauth *testutil.FakeOAuth
	llm   *testutil.FakeLLM
}

func newFixture(t *testing.T, creds ...*domain.Credential) *fixture {
	t.Helper()
	f := &fixture{
		mail:  testutil.NewFakeMail("valid"),
		store: testutil.NewMemoryCredentials(creds...),
		oauth: &testutil.FakeOAuth{
			FakeTokens: testutil.FakeTokens{Token: &oauth2.Token{AccessToken: "valid"}},
			Exchanged:  &oauth2.Token{AccessToken: "valid", RefreshToken: "r-new"},
			Profile:    &domain.Profile{Email: "a@b.com", Name: "Alice"},
		},
		llm: &testutil.FakeLLM{Reply: "work"},
	}

	refresher := auth.NewRefresher(f.oauth, f.store)
	mailSvc := mail.NewService(f.mail, refresher)
	session := Session{}

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	api := app.Group("/api")
	NewWebhookHandler(
		notification.NewProcessor(f.store, f.mail, refresher, notification.ProcessorConfig{}),
		notification.NewWatchService(f.mail, f.store, refresher, ""),
	).Register(api)
	NewEmailHandler(mailSvc, session).Register(api)
	NewAuthHandler(auth.NewOAuthService(f.oauth, f.store, refresher), session).Register(api)
	NewAIHandler(ai.NewService(f.llm, mailSvc, nil, ai.Models{}), session).Register(api)
	f.app = app
	return f
}

type result struct {
	status  int
	body    map[string]any
	cookies map[string]*nethttp.Cookie
	header  nethttp.Header
}

func (f *fixture) do(t *testing.T, method, path, body, cookie string) result {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	return f.send(t, req)
}

func (f *fixture) send(t *testing.T, req *nethttp.Request) result {
	t.Helper()
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	res := result{status: resp.StatusCode, cookies: map[string]*nethttp.Cookie{}, header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &res.body))
	}
	for _, c := range resp.Cookies() {
		res.cookies[c.Name] = c
	}
	return res
}

func pushBody(payload string) string {
	data := base64.StdEncoding.EncodeToString([]byte(payload))
	return `{"message":{"data":"` + data + `","messageId":"m-1"},"subscription":"projects/p/subscriptions/s"}`
}

// =============================================================================
// Webhook
// =============================================================================

func TestGmailWebhookRejectsInvalidEnvelope(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{`{"invalid":"data"}`, `{"message":{"data":"!!"}}`, `not json`} {
		res := f.do(t, fiber.MethodPost, "/api/webhook/gmail", body, "")
		assert.Equal(t, fiber.StatusBadRequest, res.status, body)
		assert.Equal(t, "Invalid message format", res.body["error"])
	}
	assert.Zero(t, f.store.Lookups.Load())
	assert.Zero(t, f.mail.TotalCalls())
}

func TestGmailWebhookUnknownAddress(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodPost, "/api/webhook/gmail", pushBody(`{"emailAddress":"nobody@b.com","historyId":1}`), "")
	assert.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, true, res.body["success"])
	assert.Equal(t, "Email notification received and processed", res.body["message"])
	assert.Equal(t, int32(1), f.store.Lookups.Load())
	assert.Zero(t, f.mail.TotalCalls())
}

func TestGmailWebhookFetchesUnread(t *testing.T) {
	f := newFixture(t, &domain.Credential{Email: "a@b.com", AccessToken: "valid"})
	f.mail.Messages["m1"] = &domain.MessageSummary{ID: "m1", Subject: "hi"}

	res := f.do(t, fiber.MethodPost, "/api/webhook/gmail", pushBody(`{"emailAddress":"a@b.com","historyId":"99"}`), "")
	assert.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, int32(1), f.mail.ListCalls.Load())
	assert.Equal(t, int32(1), f.mail.GetCalls.Load())

	res = f.do(t, fiber.MethodGet, "/api/webhook/metrics", "", "")
	assert.Equal(t, float64(1), res.body["processed"])
	assert.Equal(t, float64(1), res.body["latency"].(map[string]any)["count"])
}

func TestGmailWebhookAcksDownstreamFailure(t *testing.T) {
	f := newFixture(t, &domain.Credential{Email: "a@b.com", AccessToken: "valid"})
	f.mail.ListErr = errors.New("gmail unavailable")

	res := f.do(t, fiber.MethodPost, "/api/webhook/gmail", pushBody(`{"emailAddress":"a@b.com"}`), "")
	assert.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, true, res.body["success"])
}

func TestWebhookDescriptors(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodGet, "/api/webhook/gmail", "", "")
	assert.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "Gmail webhook endpoint is active", res.body["message"])

	res = f.do(t, fiber.MethodGet, "/api/webhook/setup", "", "")
	assert.Equal(t, "Gmail webhook setup endpoint", res.body["message"])
	assert.Contains(t, res.body, "example")
}

func TestWebhookSetup(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodPost, "/api/webhook/setup", `{"topicName":"projects/p/topics/t"}`, "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "Access token is required", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/webhook/setup", `{"accessToken":"valid","topicName":"projects/p/topics/t","labelIds":["INBOX","SENT"]}`, "")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "Gmail webhook subscription created successfully", res.body["message"])
	data := res.body["data"].(map[string]any)
	assert.Equal(t, float64(12345), data["historyId"])
	assert.Equal(t, []string{"INBOX", "SENT"}, f.mail.LastWatch.LabelIDs)

	res = f.do(t, fiber.MethodPost, "/api/webhook/setup", `{"accessToken":"stale","topicName":"projects/p/topics/t"}`, "")
	assert.Equal(t, fiber.StatusInternalServerError, res.status)
	assert.Equal(t, "Failed to set up webhook subscription", res.body["error"])
	assert.NotEmpty(t, res.body["details"])
}

// =============================================================================
// Emails
// =============================================================================

func TestEmailRoutesRequireSession(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodGet, "/api/emails", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, res.status)
	assert.Equal(t, "Not authenticated", res.body["error"])
	assert.Zero(t, f.mail.TotalCalls())
}

func TestListEmailsRefreshesAndReissuesCookie(t *testing.T) {
	f := newFixture(t, &domain.Credential{Email: "a@b.com", AccessToken: "expired", RefreshToken: "r"})
	f.mail.Messages["m1"] = &domain.MessageSummary{ID: "m1", Subject: "hello"}

	res := f.do(t, fiber.MethodGet, "/api/emails?maxResults=5", "", "access_token=expired; refresh_token=r; user_email=a@b.com")
	require.Equal(t, fiber.StatusOK, res.status)
	emails := res.body["emails"].([]any)
	assert.Len(t, emails, 1)

	require.Contains(t, res.cookies, CookieAccessToken)
	assert.Equal(t, "valid", res.cookies[CookieAccessToken].Value)
	assert.True(t, res.cookies[CookieAccessToken].HttpOnly)
	assert.Equal(t, int32(1), f.oauth.Calls.Load())
	assert.Equal(t, int32(1), f.store.Writes.Load())
	assert.Equal(t, int64(5), f.mail.LastQuery.MaxResults)
}

func TestListEmailsRevokedRefreshIs401(t *testing.T) {
	f := newFixture(t)
	f.oauth.Err = errors.New("invalid_grant")

	res := f.do(t, fiber.MethodGet, "/api/emails/list?folder=sent", "", "access_token=expired; refresh_token=r; user_email=a@b.com")
	assert.Equal(t, fiber.StatusUnauthorized, res.status)
	assert.NotContains(t, res.cookies, CookieAccessToken)
	assert.Zero(t, f.store.Writes.Load())
}

func TestRefreshWithForeignEmailCookieLeavesRecordAlone(t *testing.T) {
	f := newFixture(t, &domain.Credential{Email: "victim@b.com", AccessToken: "victim-access", RefreshToken: "victim-refresh"})
	f.mail.Messages["m1"] = &domain.MessageSummary{ID: "m1"}

	res := f.do(t, fiber.MethodGet, "/api/emails", "", "access_token=garbage; refresh_token=attacker-refresh; user_email=victim@b.com")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "valid", res.cookies[CookieAccessToken].Value)

	stored, ok := f.store.Stored("victim@b.com")
	require.True(t, ok)
	assert.Equal(t, "victim-access", stored.AccessToken)
	assert.Equal(t, "victim-refresh", stored.RefreshToken)
	assert.Zero(t, f.store.Writes.Load())

	res = f.do(t, fiber.MethodGet, "/api/emails", "", "access_token=garbage; refresh_token=r; user_email=nobody@b.com")
	require.Equal(t, fiber.StatusOK, res.status)
	_, ok = f.store.Stored("nobody@b.com")
	assert.False(t, ok)
}

func TestGetEmailNotFound(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodGet, "/api/emails/missing", "", sessionCookie)
	assert.Equal(t, fiber.StatusNotFound, res.status)
}

func TestGetContents(t *testing.T) {
	f := newFixture(t)
	f.mail.Messages["m1"] = &domain.MessageSummary{ID: "m1"}
	f.mail.Messages["m2"] = &domain.MessageSummary{ID: "m2"}

	res := f.do(t, fiber.MethodPost, "/api/emails/content", `{"emailIds":[]}`, sessionCookie)
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "Invalid or missing emailIds in request body", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/emails/content", `{"emailIds":["m2","m1"]}`, sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, float64(2), res.body["requestedCount"])
	assert.Equal(t, float64(2), res.body["fetchedCount"])
	first := res.body["emailContents"].([]any)[0].(map[string]any)
	assert.Equal(t, "m2", first["id"])
}

func TestGetThread(t *testing.T) {
	f := newFixture(t)
	f.mail.Messages["m1"] = &domain.MessageSummary{ID: "m1", ThreadID: "t1"}
	f.mail.Messages["m2"] = &domain.MessageSummary{ID: "m2", ThreadID: "t1"}

	res := f.do(t, fiber.MethodGet, "/api/emails/thread/t1", "", sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Len(t, res.body["messages"], 2)
	assert.Equal(t, "m1", res.body["mainEmail"].(map[string]any)["id"])
}

func TestSendEmailJSON(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodPost, "/api/emails/send", `{"to":"x@y.com","subject":"hi"}`, sessionCookie)
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "Missing required fields", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/emails/send", `{"to":"x@y.com, z@y.com","subject":"hi","content":"<p>body</p>"}`, "access_token=valid")
	assert.Equal(t, fiber.StatusUnauthorized, res.status)

	res = f.do(t, fiber.MethodPost, "/api/emails/send", `{"to":"x@y.com, z@y.com","subject":"hi","content":"<p>body</p>"}`, sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "sent-1", res.body["messageId"])
	assert.Equal(t, float64(0), res.body["attachmentCount"])
	assert.Equal(t, []string{"x@y.com", "z@y.com"}, f.mail.LastSent.To)
	assert.Equal(t, "a@b.com", f.mail.LastSent.From)
	assert.True(t, f.mail.LastSent.IsHTML)
}

func TestSendEmailMultipart(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("to", "x@y.com"))
	require.NoError(t, w.WriteField("subject", "report"))
	require.NoError(t, w.WriteField("content", "see attached"))
	part, err := w.CreateFormFile("attachments", "report.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("numbers"))
	_, err = w.CreateFormFile("attachments", "empty.txt")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(fiber.MethodPost, "/api/emails/send", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Cookie", sessionCookie)

	res := f.send(t, req)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, float64(1), res.body["attachmentCount"])
	require.Len(t, f.mail.LastSent.Attachments, 1)
	assert.Equal(t, "report.txt", f.mail.LastSent.Attachments[0].Filename)
	assert.Equal(t, []byte("numbers"), f.mail.LastSent.Attachments[0].Data)
}

func TestStarAndDelete(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodPost, "/api/emails/star", `{"star":true}`, sessionCookie)
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "Message ID is required", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/emails/star", `{"messageId":"m1","star":true}`, sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, true, res.body["starred"])

	res = f.do(t, fiber.MethodPost, "/api/emails/delete", `{"messageId":"m1"}`, sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "trash", res.body["action"])

	res = f.do(t, fiber.MethodPost, "/api/emails/delete", `{"messageId":"m1","action":"shred"}`, sessionCookie)
	assert.Equal(t, fiber.StatusBadRequest, res.status)

	assert.Equal(t, []string{"star:m1", "trash:m1"}, f.mail.Modified)
}

func TestGetAttachment(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodGet, "/api/emails/attachments/m1/a1", "", sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("m1/a1")), res.body["data"])
	assert.Equal(t, float64(5), res.body["size"])
}

func TestProviderRateLimitIs429(t *testing.T) {
	f := newFixture(t)
	f.mail.ListErr = &out.ProviderError{Provider: "gmail", Code: out.ProviderErrRateLimit, Message: "Rate limit exceeded", StatusCode: 429}

	res := f.do(t, fiber.MethodGet, "/api/emails", "", sessionCookie)
	assert.Equal(t, fiber.StatusTooManyRequests, res.status)
	assert.Equal(t, "RATE_LIMITED", res.body["code"])
}

func TestEmailContext(t *testing.T) {
	f := newFixture(t)
	f.mail.Messages["m1"] = &domain.MessageSummary{ID: "m1"}

	res := f.do(t, fiber.MethodGet, "/api/emails/context", "", sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Len(t, res.body["emailContext"], 1)
	assert.Nil(t, res.body["query"])
	assert.Contains(t, res.body, "query")
	assert.Equal(t, int64(100), f.mail.LastQuery.MaxResults)

	res = f.do(t, fiber.MethodGet, "/api/emails/context?query=from:boss&maxResults=10", "", sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "from:boss", res.body["query"])
	assert.Equal(t, int64(10), f.mail.LastQuery.MaxResults)
}

func TestReply(t *testing.T) {
	f := newFixture(t)
	f.mail.Messages["orig"] = &domain.MessageSummary{ID: "orig", ThreadID: "t1", MessageID: "<o@mail>"}
	body := `{"to":"x@y.com","subject":"Re: hi","content":"ok","originalMessageId":"orig"}`

	res := f.do(t, fiber.MethodPost, "/api/emails/reply", body, "access_token=valid")
	assert.Equal(t, fiber.StatusUnauthorized, res.status)

	res = f.do(t, fiber.MethodPost, "/api/emails/reply", `{"to":"x@y.com","subject":"Re: hi"}`, sessionCookie)
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "Missing required fields", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/emails/reply", body, sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, true, res.body["success"])
	assert.Equal(t, "t1", res.body["threadId"])
	assert.Equal(t, "<o@mail>", f.mail.LastSent.InReplyTo)

	res = f.do(t, fiber.MethodPost, "/api/emails/reply", strings.Replace(body, `"orig"`, `"gone"`, 1), sessionCookie)
	assert.Equal(t, fiber.StatusNotFound, res.status)
}

func TestDraftRoutes(t *testing.T) {
	f := newFixture(t)
	f.mail.Drafts["d1"] = &domain.Draft{ID: "d1", Message: &domain.MessageSummary{ID: "m1", Subject: "wip"}}
	f.mail.Drafts["d2"] = &domain.Draft{ID: "d2"}

	res := f.do(t, fiber.MethodGet, "/api/emails/draft", "", sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Len(t, res.body["drafts"], 2)

	res = f.do(t, fiber.MethodGet, "/api/emails/draft/d1", "", sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	draft := res.body["draft"].(map[string]any)
	assert.Equal(t, "wip", draft["message"].(map[string]any)["subject"])

	res = f.do(t, fiber.MethodGet, "/api/emails/draft/nope", "", sessionCookie)
	assert.Equal(t, fiber.StatusNotFound, res.status)
	assert.Equal(t, "Draft not found", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/emails/draft/send", `{}`, sessionCookie)
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "draftId is required", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/emails/draft/send", `{"draftId":"d1"}`, sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "sent-d1", res.body["id"])

	res = f.do(t, fiber.MethodDelete, "/api/emails/draft", `{"draftId":"d2"}`, sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, true, res.body["success"])
	assert.Empty(t, f.mail.Drafts)

	res = f.do(t, fiber.MethodDelete, "/api/emails/draft", `{"draftId":"d2"}`, sessionCookie)
	assert.Equal(t, fiber.StatusNotFound, res.status)

	res = f.do(t, fiber.MethodGet, "/api/emails/draft", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, res.status)
}

// =============================================================================
// Auth
// =============================================================================

func TestLoginRedirectsWithState(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodGet, "/api/auth/google", "", "")
	assert.Equal(t, fiber.StatusFound, res.status)
	require.Contains(t, res.cookies, cookieOAuthState)
	assert.Contains(t, res.header.Get("Location"), "state="+res.cookies[cookieOAuthState].Value)
}

func TestCallbackRedirect(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodGet, "/api/auth/google/callback", "", "")
	assert.Equal(t, fiber.StatusFound, res.status)
	assert.Contains(t, res.header.Get("Location"), "/login?error=")

	res = f.do(t, fiber.MethodGet, "/api/auth/google/callback?code=c&state=s1", "", "oauth_state=s2")
	assert.Contains(t, res.header.Get("Location"), "/login?error=")
	assert.Zero(t, f.store.Writes.Load())

	res = f.do(t, fiber.MethodGet, "/api/auth/google/callback?code=c&state=s1", "", "oauth_state=s1")
	assert.Equal(t, fiber.StatusFound, res.status)
	assert.Equal(t, "/dashboard", res.header.Get("Location"))
	assert.Equal(t, "valid", res.cookies[CookieAccessToken].Value)
	assert.Equal(t, "r-new", res.cookies[CookieRefreshToken].Value)
	assert.Equal(t, "a@b.com", res.cookies[CookieUserEmail].Value)
	assert.False(t, res.cookies[CookieTempUserInfo].HttpOnly)

	stored, ok := f.store.Stored("a@b.com")
	require.True(t, ok)
	assert.Equal(t, "r-new", stored.RefreshToken)
}

func TestCallbackJSON(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodPost, "/api/auth/google/callback", `{}`, "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "No authentication code provided", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/auth/google/callback", `{"code":"c"}`, "")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "valid", res.body["access_token"])
	assert.Equal(t, "a@b.com", res.body["user_info"].(map[string]any)["email"])
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, &domain.Credential{Email: "a@b.com", AccessToken: "old", RefreshToken: "r"})

	res := f.do(t, fiber.MethodPost, "/api/auth/refresh", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, res.status)
	assert.Equal(t, "No refresh token available", res.body["error"])

	res = f.do(t, fiber.MethodGet, "/api/auth/refresh", "", "refresh_token=r; user_email=a@b.com")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, true, res.body["success"])
	assert.Equal(t, "valid", res.cookies[CookieAccessToken].Value)

	stored, _ := f.store.Stored("a@b.com")
	assert.Equal(t, "valid", stored.AccessToken)
}

func TestAccount(t *testing.T) {
	f := newFixture(t, &domain.Credential{Email: "a@b.com", Name: "Alice", AccessToken: "valid"})

	res := f.do(t, fiber.MethodGet, "/api/account", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, res.status)

	res = f.do(t, fiber.MethodGet, "/api/account", "", sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "Alice", res.body["name"])
	assert.NotContains(t, res.body, "access_token")

	res = f.do(t, fiber.MethodDelete, "/api/account", "", sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "Account deleted", res.body["message"])
	assert.Empty(t, res.cookies[CookieAccessToken].Value)

	_, ok := f.store.Stored("a@b.com")
	assert.False(t, ok)
}

// =============================================================================
// AI
// =============================================================================

func TestFlagged(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, fiber.MethodPost, "/api/emails/flagged", `{"emails":"nope"}`, "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "Invalid request", res.body["error"])

	f.llm.Replies = map[string]string{"SALE": "promotional"}
	res = f.do(t, fiber.MethodPost, "/api/emails/flagged", `{"emails":[{"id":"1","subject":"50% SALE"},{"id":"2","subject":"standup"}]}`, "")
	require.Equal(t, fiber.StatusOK, res.status)
	flagged := res.body["flagged"].([]any)
	require.Len(t, flagged, 2)
	assert.Equal(t, "promotional", flagged[0].(map[string]any)["flag"])
	assert.Equal(t, "work", flagged[1].(map[string]any)["flag"])

	f.llm.Err = errors.New("upstream down")
	res = f.do(t, fiber.MethodPost, "/api/emails/flagged", `{"emails":[{"id":"3"}]}`, "")
	assert.Equal(t, fiber.StatusInternalServerError, res.status)
	assert.Equal(t, "Failed to flag emails", res.body["error"])
}

func TestSummarize(t *testing.T) {
	f := newFixture(t)
	f.mail.Messages["m1"] = &domain.MessageSummary{ID: "m1", Body: "<b>ship it</b>"}
	f.llm.Reply = `{"overall_summary":"one email"}`

	res := f.do(t, fiber.MethodPost, "/api/emails/summarize", `{"emailIds":[]}`, sessionCookie)
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "Invalid email IDs", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/emails/summarize", `{"emailIds":["m1"]}`, sessionCookie)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "one email", res.body["overall_summary"])

	f.llm.Reply = "not json"
	res = f.do(t, fiber.MethodPost, "/api/emails/summarize", `{"emailIds":["m1"]}`, sessionCookie)
	assert.Equal(t, fiber.StatusInternalServerError, res.status)
	assert.Equal(t, "Failed to summarize emails", res.body["error"])
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	f.llm.Reply = "  Quarterly sync  "

	res := f.do(t, fiber.MethodPost, "/api/generate", `{"prompt":"sync","type":"poem"}`, "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "Invalid generation type", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/generate", `{"prompt":"sync","type":"subject","userName":"Alice"}`, "")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "Quarterly sync", res.body["subject"])

	res = f.do(t, fiber.MethodPost, "/api/generate", `{"prompt":"sync","type":"content"}`, "")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "Quarterly sync", res.body["content"])
}

func TestTLDRRoute(t *testing.T) {
	f := newFixture(t)
	f.llm.Reply = "- decide by friday"

	res := f.do(t, fiber.MethodPost, "/api/emails/tldr", `{"subject":"x"}`, "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "Email content is required", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/emails/tldr", `{"emailContent":"<p>tiny</p>"}`, "")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "Email is too short to summarize.", res.body["summary"])

	long := strings.Repeat("budget review needs sign off ", 5)
	res = f.do(t, fiber.MethodPost, "/api/emails/tldr", `{"emailContent":"`+long+`"}`, "")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "- decide by friday", res.body["summary"])

	f.llm.Err = errors.New("upstream down")
	res = f.do(t, fiber.MethodPost, "/api/emails/tldr", `{"emailContent":"`+long+`"}`, "")
	assert.Equal(t, fiber.StatusInternalServerError, res.status)
	assert.Equal(t, "Failed to generate TLDR summary", res.body["error"])
}

func TestReplyChoicesRoute(t *testing.T) {
	f := newFixture(t)
	f.llm.Reply = `{"choices":[{"id":"a","content":"Yes","tone":"Positive","description":"accept"}]}`

	res := f.do(t, fiber.MethodPost, "/api/generate-reply-choices", `{"originalSubject":"hi"}`, "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "Original subject and content are required", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/generate-reply-choices", `{"originalSubject":"hi","originalContent":"lunch?"}`, "")
	require.Equal(t, fiber.StatusOK, res.status)
	choices := res.body["choices"].([]any)
	require.Len(t, choices, 1)
	assert.Equal(t, "positive", choices[0].(map[string]any)["tone"])

	f.llm.Err = errors.New("upstream down")
	res = f.do(t, fiber.MethodPost, "/api/generate-reply-choices", `{"originalSubject":"hi","originalContent":"lunch?"}`, "")
	assert.Equal(t, fiber.StatusInternalServerError, res.status)
	assert.Equal(t, "Failed to generate reply choices", res.body["error"])
}

func TestAutocompleteRoute(t *testing.T) {
	f := newFixture(t)
	f.llm.Reply = " soon.\n"

	res := f.do(t, fiber.MethodPost, "/api/autocomplete", `{"sentence":"See you"}`, "")
	assert.Equal(t, fiber.StatusUnauthorized, res.status)
	assert.Equal(t, "Not authenticated", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/autocomplete", `{"sentence":"  "}`, "access_token=valid")
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, "Invalid sentence", res.body["error"])

	res = f.do(t, fiber.MethodPost, "/api/autocomplete", `{"sentence":"See you","userData":{"name":"Alice","email":"a@b.com"}}`, "access_token=valid")
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "soon.", res.body["completion"])
	assert.Contains(t, f.llm.Last.Messages[0].Content, "User Email: a@b.com")
	assert.Zero(t, f.mail.TotalCalls())

	f.llm.Err = errors.New("upstream down")
	res = f.do(t, fiber.MethodPost, "/api/autocomplete", `{"sentence":"See you"}`, "access_token=valid")
	assert.Equal(t, fiber.StatusInternalServerError, res.status)
	assert.Equal(t, "Autocomplete failed", res.body["error"])
}

// =============================================================================
// Health
// =============================================================================

func TestReady(t *testing.T) {
	app := fiber.New()
	NewHealthHandler(map[string]PingFunc{
		"mongodb": func(context.Context) error { return nil },
		"redis":   func(context.Context) error { return errors.New("connection refused") },
	}).Register(app)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["mongodb"])
	assert.Equal(t, "unhealthy: connection refused", checks["redis"])
}
