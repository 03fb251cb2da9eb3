// Package google implements Google sign-in and token refresh.
package google

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/pkg/httputil"
)

const DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Scopes requested at sign-in.
var Scopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/userinfo.profile",
	"openid",
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint and UserInfoURL default to Google's.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
}

// OAuthClient implements out.OAuthProvider with golang.org/x/oauth2.
type OAuthClient struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

var _ out.OAuthProvider = (*OAuthClient)(nil)

func NewOAuthClient(cfg Config) *OAuthClient {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = DefaultUserInfoURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httputil.NewClient(httputil.GoogleClientConfig())
	}
	return &OAuthClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		httpClient:  httpClient,
	}
}

func (c *OAuthClient) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthURL asks for offline access and forces the consent screen so Google
// issues a refresh token on every sign-in.
func (c *OAuthClient) AuthURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (c *OAuthClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := c.config.Exchange(c.withClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return token, nil
}

// Refresh redeems refreshToken for a new access token. Google usually omits a
// new refresh token, so the returned token's RefreshToken may echo the input.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := c.config.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return token, nil
}

func (c *OAuthClient) UserInfo(ctx context.Context, accessToken string) (*domain.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("userinfo read: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		pe := out.NewProviderError("google", out.ProviderErrTokenExpired, "Token expired", fmt.Errorf("userinfo: %s", body), false)
		pe.StatusCode = resp.StatusCode
		return nil, pe
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo: status %d: %s", resp.StatusCode, body)
	}

	var profile domain.Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("userinfo decode: %w", err)
	}
	return &profile, nil
}
