package auth

import (
	"context"
	"time"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/pkg/apperr"
	"inbox_server/pkg/logger"
)

// OAuthService drives Google sign-in and session token renewal.
type OAuthService struct {
	provider  out.OAuthProvider
	creds     out.CredentialRepository
	refresher *Refresher
}

func NewOAuthService(provider out.OAuthProvider, creds out.CredentialRepository, refresher *Refresher) *OAuthService {
	return &OAuthService{provider: provider, creds: creds, refresher: refresher}
}

func (s *OAuthService) configured() error {
	if s.provider == nil {
		return apperr.ConfigError("Google OAuth is not configured")
	}
	return nil
}

// AuthURL returns the consent screen URL.
func (s *OAuthService) AuthURL(state string) (string, error) {
	if err := s.configured(); err != nil {
		return "", err
	}
	return s.provider.AuthURL(state), nil
}

// HandleCallback exchanges the authorization code, resolves the Google profile
// and upserts the credential record.
func (s *OAuthService) HandleCallback(ctx context.Context, code string) (*domain.Credential, *domain.Profile, error) {
	if err := s.configured(); err != nil {
		return nil, nil, err
	}
	if code == "" {
		return nil, nil, apperr.BadRequest("No authentication code provided")
	}

	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, nil, apperr.OAuthFailed("google", err)
	}

	profile, err := s.provider.UserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, nil, apperr.OAuthFailed("google", err)
	}
	if profile.Email == "" {
		return nil, nil, apperr.OAuthFailed("google", nil).WithDetail("reason", "userinfo returned no email")
	}

	now := time.Now()
	cred := &domain.Credential{
		Email:        profile.Email,
		Name:         profile.Name,
		Picture:      profile.Picture,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		LastLogin:    now,
		UpdatedAt:    now,
	}

	if s.creds != nil {
		// Google omits the refresh token on repeat consent; keep the one on file.
		if cred.RefreshToken == "" {
			if existing, err := s.creds.GetByEmail(ctx, cred.Email); err == nil && existing != nil {
				cred.RefreshToken = existing.RefreshToken
			}
		}
		if err := s.creds.Upsert(ctx, cred); err != nil {
			return nil, nil, apperr.DatabaseError("save credential", err)
		}
	}

	logger.WithField("email", cred.Email).Info("[OAuthService.HandleCallback] user signed in")
	return cred, profile, nil
}

// RefreshSession renews the access token for a cookie session.
func (s *OAuthService) RefreshSession(ctx context.Context, email, refreshToken string) (*domain.Credential, error) {
	if refreshToken == "" {
		return nil, apperr.AuthenticationFailed("No refresh token available", nil)
	}
	cred := &domain.Credential{Email: email, RefreshToken: refreshToken}
	if err := s.refresher.Refresh(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// Account returns the stored record for email.
func (s *OAuthService) Account(ctx context.Context, email string) (*domain.Credential, error) {
	if s.creds == nil {
		return nil, apperr.ConfigError("credential store is not configured")
	}
	cred, err := s.creds.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.DatabaseError("get credential", err)
	}
	if cred == nil {
		return nil, apperr.NotFound("account")
	}
	return cred, nil
}

// DeleteAccount removes the stored record for email.
func (s *OAuthService) DeleteAccount(ctx context.Context, email string) error {
	if s.creds == nil {
		return apperr.ConfigError("credential store is not configured")
	}
	if err := s.creds.Delete(ctx, email); err != nil {
		return apperr.DatabaseError("delete credential", err)
	}
	logger.WithField("email", email).Info("[OAuthService.DeleteAccount] account deleted")
	return nil
}
