package auth

import (
	"context"
	"errors"
	"strings"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/pkg/apperr"
	"inbox_server/pkg/logger"
)

// Refresher exchanges a credential's refresh token for a new access token and
// persists the result. A nil *Refresher is valid and refuses every refresh.
type Refresher struct {
	tokens out.TokenRefresher
	store  out.CredentialRepository
}

func NewRefresher(tokens out.TokenRefresher, store out.CredentialRepository) *Refresher {
	return &Refresher{tokens: tokens, store: store}
}

// Refresh mints a new access token for cred, writes it to the store at most
// once and updates cred in place. The stored refresh token is replaced only when Google
// issues a new one.
func (r *Refresher) Refresh(ctx context.Context, cred *domain.Credential) error {
	if r == nil || r.tokens == nil {
		return apperr.ConfigError("token refresh is not configured")
	}
	if !cred.CanRefresh() {
		return apperr.AuthenticationFailed("No refresh token available", nil)
	}

	token, err := r.tokens.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if isRevokedGrant(err) {
			logger.WithField("email", cred.Email).Warn("[Refresher.Refresh] refresh token revoked: %v", err)
		} else {
			logger.WithField("email", cred.Email).Error("[Refresher.Refresh] token exchange failed: %v", err)
		}
		return apperr.AuthenticationFailed("", err)
	}
	if token == nil || token.AccessToken == "" {
		return apperr.AuthenticationFailed("", nil)
	}

	refreshToken := cred.RefreshToken
	if token.RefreshToken != "" {
		refreshToken = token.RefreshToken
	}

	if err := r.persist(ctx, cred, token.AccessToken, refreshToken); err != nil {
		return err
	}

	cred.AccessToken = token.AccessToken
	cred.RefreshToken = refreshToken
	logger.WithField("email", cred.Email).Info("[Refresher.Refresh] access token refreshed")
	return nil
}

// persist writes the refreshed pair back to the record of cred.Email, but only
// when that record holds the refresh token that was just exchanged. A session
// whose email does not own the token keeps its new token in memory only.
func (r *Refresher) persist(ctx context.Context, cred *domain.Credential, accessToken, refreshToken string) error {
	log := logger.WithField("email", cred.Email)
	if cred.Email == "" {
		log.Warn("[Refresher.Refresh] credential has no email, refreshed token not persisted")
		return nil
	}
	if r.store == nil {
		return nil
	}

	stored, err := r.store.GetByEmail(ctx, cred.Email)
	if err != nil {
		return apperr.DatabaseError("get credential", err)
	}
	if stored == nil || stored.RefreshToken == "" || stored.RefreshToken != cred.RefreshToken {
		log.Warn("[Refresher.Refresh] stored credential does not hold this refresh token, not persisted")
		return nil
	}

	if err := r.store.UpdateTokens(ctx, cred.Email, accessToken, refreshToken); err != nil {
		if errors.Is(err, out.ErrCredentialNotFound) {
			log.Warn("[Refresher.Refresh] credential removed during refresh, not persisted")
			return nil
		}
		return apperr.DatabaseError("update tokens", err)
	}
	return nil
}

// WithAuthRetry runs op with the credential's access token. When the provider
// rejects the token, the credential is refreshed and op runs exactly once more.
// Authorization failures that survive the refresh come back as
// apperr.ErrAuthentication; any other error from op is returned unchanged.
func WithAuthRetry[T any](ctx context.Context, r *Refresher, cred *domain.Credential, op func(ctx context.Context, accessToken string) (T, error)) (T, error) {
	var zero T
	if cred == nil || cred.AccessToken == "" {
		return zero, apperr.AuthenticationFailed("Not authenticated", nil)
	}

	result, err := op(ctx, cred.AccessToken)
	if err == nil || !out.IsTokenExpired(err) {
		return result, err
	}

	if !cred.CanRefresh() {
		return zero, apperr.AuthenticationFailed("", err)
	}
	if err := r.Refresh(ctx, cred); err != nil {
		return zero, err
	}

	result, err = op(ctx, cred.AccessToken)
	if err != nil && out.IsTokenExpired(err) {
		return zero, apperr.AuthenticationFailed("", err)
	}
	return result, err
}

// DoWithAuthRetry is WithAuthRetry for operations without a result.
func DoWithAuthRetry(ctx context.Context, r *Refresher, cred *domain.Credential, op func(ctx context.Context, accessToken string) error) error {
	_, err := WithAuthRetry(ctx, r, cred, func(ctx context.Context, accessToken string) (struct{}, error) {
		return struct{}{}, op(ctx, accessToken)
	})
	return err
}

// isRevokedGrant checks if the error indicates the refresh token can never be used again.
func isRevokedGrant(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "Token has been expired or revoked") ||
		strings.Contains(errStr, "invalid_client")
}
