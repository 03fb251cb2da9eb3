package out

import (
	"context"

	"golang.org/x/oauth2"

	"inbox_server/core/domain"
)

// TokenRefresher exchanges a refresh token at the OAuth token endpoint.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuthProvider is the Google sign-in surface.
type OAuthProvider interface {
	TokenRefresher
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, accessToken string) (*domain.Profile, error)
}
