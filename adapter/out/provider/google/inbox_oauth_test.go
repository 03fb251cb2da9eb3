package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"inbox_server/core/port/out"
)

func newTestOAuth(t *testing.T) (*OAuthClient, *[]url.Values) {
	t.Helper()
	var forms []url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		forms = append(forms, r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.PostForm.Get("refresh_token") == "revoked":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
		case r.PostForm.Get("grant_type") == "refresh_token":
			_, _ = w.Write([]byte(`{"access_token":"new-access","token_type":"Bearer","expires_in":3599}`))
		default:
			_, _ = w.Write([]byte(`{"access_token":"a1","refresh_token":"r1","token_type":"Bearer","expires_in":3599}`))
		}
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer a1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"email":"user@example.com","name":"User","picture":"https://p","verified_email":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewOAuthClient(Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		UserInfoURL:  srv.URL + "/userinfo",
	})
	return c, &forms
}

func TestAuthURL(t *testing.T) {
	c, _ := newTestOAuth(t)
	u, err := url.Parse(c.AuthURL("state-1"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Contains(t, q.Get("scope"), "gmail.send")
}

func TestExchangeRefreshUserInfo(t *testing.T) {
	c, forms := newTestOAuth(t)
	ctx := context.Background()

	tok, err := c.Exchange(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	assert.Equal(t, "code-1", (*forms)[0].Get("code"))

	refreshed, err := c.Refresh(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", refreshed.AccessToken)
	assert.Equal(t, "r1", (*forms)[1].Get("refresh_token"))

	_, err = c.Refresh(ctx, "revoked")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")

	profile, err := c.UserInfo(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", profile.Email)
	assert.True(t, profile.VerifiedEmail)

	_, err = c.UserInfo(ctx, "stale")
	assert.True(t, out.IsTokenExpired(err))
}
