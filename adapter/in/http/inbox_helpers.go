package http

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/pkg/apperr"
)

const (
	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"
	CookieUserEmail    = "user_email"
	CookieTempUserInfo = "temp_user_info"

	accessTokenMaxAge  = time.Hour
	refreshTokenMaxAge = 30 * 24 * time.Hour
	tempUserInfoMaxAge = time.Minute
)

// Session writes the auth cookies.
type Session struct {
	Secure bool
}

func (s Session) cookie(name, value string, maxAge time.Duration, httpOnly bool) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Expires:  time.Now().Add(maxAge),
		HTTPOnly: httpOnly,
		Secure:   s.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}

// Set writes the access token, the refresh token when present and the email.
func (s Session) Set(c *fiber.Ctx, cred *domain.Credential) {
	c.Cookie(s.cookie(CookieAccessToken, cred.AccessToken, accessTokenMaxAge, true))
	if cred.RefreshToken != "" {
		c.Cookie(s.cookie(CookieRefreshToken, cred.RefreshToken, refreshTokenMaxAge, true))
	}
	if cred.Email != "" {
		c.Cookie(s.cookie(CookieUserEmail, cred.Email, refreshTokenMaxAge, true))
	}
}

// SetTempUserInfo exposes the profile to the frontend for one minute after login.
func (s Session) SetTempUserInfo(c *fiber.Ctx, raw string) {
	c.Cookie(s.cookie(CookieTempUserInfo, raw, tempUserInfoMaxAge, false))
}

func (s Session) Clear(c *fiber.Ctx) {
	for _, name := range []string{CookieAccessToken, CookieRefreshToken, CookieUserEmail} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HTTPOnly: true,
			Secure:   s.Secure,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
}

// credentialFromCookies builds the session credential. The access token is
// required; the refresh token and email may be absent.
func credentialFromCookies(c *fiber.Ctx) (*domain.Credential, error) {
	access := c.Cookies(CookieAccessToken)
	if access == "" {
		return nil, apperr.Unauthorized("Not authenticated")
	}
	return &domain.Credential{
		Email:        c.Cookies(CookieUserEmail),
		AccessToken:  access,
		RefreshToken: c.Cookies(CookieRefreshToken),
	}, nil
}

// syncSession re-issues cookies when the retry wrapper refreshed the token pair.
func (s Session) syncSession(c *fiber.Ctx, before domain.Credential, after *domain.Credential) {
	if after == nil {
		return
	}
	if after.AccessToken != before.AccessToken || after.RefreshToken != before.RefreshToken {
		s.Set(c, after)
	}
}

// routeError keeps client-facing errors and collapses the rest into a generic
// 500 carrying message.
func routeError(err error, message string) error {
	if err == nil {
		return nil
	}
	if apperr.IsAuthentication(err) {
		return err
	}

	if apperr.GetHTTPStatus(err) < 500 {
		return apperr.AsAppError(err)
	}

	var pe *out.ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case out.ProviderErrTokenExpired, out.ProviderErrAuth:
			return apperr.Wrap(err, apperr.CodeUnauthorized, "Not authenticated", fiber.StatusUnauthorized)
		case out.ProviderErrNotFound:
			return apperr.Wrap(err, apperr.CodeNotFound, "Not found", fiber.StatusNotFound)
		case out.ProviderErrRateLimit:
			return apperr.RateLimited(pe.Provider, err)
		case out.ProviderErrInvalidInput:
			return apperr.Wrap(err, apperr.CodeBadRequest, "Invalid request", fiber.StatusBadRequest)
		}
	}

	return apperr.Wrap(err, apperr.CodeInternalError, message, fiber.StatusInternalServerError)
}

// stringList accepts a JSON array or a comma-separated string.
func stringList(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		for _, p := range strings.Split(t, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}
