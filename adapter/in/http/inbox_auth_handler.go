package http

import (
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"inbox_server/core/domain"
	"inbox_server/core/service/auth"
	"inbox_server/pkg/apperr"
	"inbox_server/pkg/logger"
)

const (
	cookieOAuthState = "oauth_state"
	oauthStateTTL    = 10 * time.Minute
)

// AuthHandler serves Google sign-in, session refresh and the account routes.
type AuthHandler struct {
	oauth   *auth.OAuthService
	session Session
}

func NewAuthHandler(oauth *auth.OAuthService, session Session) *AuthHandler {
	return &AuthHandler{oauth: oauth, session: session}
}

func (h *AuthHandler) Register(router fiber.Router) {
	a := router.Group("/auth")
	a.Get("/google", h.Login)
	a.Get("/google/callback", h.CallbackRedirect)
	a.Post("/google/callback", h.Callback)
	a.Get("/refresh", h.Refresh)
	a.Post("/refresh", h.Refresh)

	router.Get("/account", h.GetAccount)
	router.Delete("/account", h.DeleteAccount)
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Login redirects to the Google consent screen. The state is echoed back in a
// short-lived cookie and checked on the redirect callback.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	state, err := generateState()
	if err != nil {
		return apperr.InternalWithError(err)
	}
	authURL, err := h.oauth.AuthURL(state)
	if err != nil {
		return err
	}
	c.Cookie(h.session.cookie(cookieOAuthState, state, oauthStateTTL, true))
	return c.Redirect(authURL, fiber.StatusFound)
}

// CallbackRedirect completes the browser flow and lands on the dashboard.
func (h *AuthHandler) CallbackRedirect(c *fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return c.Redirect("/login?error="+url.QueryEscape("No authentication code provided"), fiber.StatusFound)
	}
	if want := c.Cookies(cookieOAuthState); want != "" && want != c.Query("state") {
		logger.Warn("[AuthHandler.CallbackRedirect] state mismatch")
		return c.Redirect("/login?error="+url.QueryEscape("Authentication failed"), fiber.StatusFound)
	}

	cred, profile, err := h.oauth.HandleCallback(c.UserContext(), code)
	if err != nil {
		logger.WithError(err).Error("[AuthHandler.CallbackRedirect] sign-in failed")
		return c.Redirect("/login?error="+url.QueryEscape("Authentication failed"), fiber.StatusFound)
	}

	h.session.Set(c, cred)
	if raw, err := json.Marshal(profile); err == nil {
		h.session.SetTempUserInfo(c, url.QueryEscape(string(raw)))
	}
	c.ClearCookie(cookieOAuthState)
	return c.Redirect("/dashboard", fiber.StatusFound)
}

type callbackRequest struct {
	Code string `json:"code"`
}

// Callback is the JSON variant used by single-page clients.
func (h *AuthHandler) Callback(c *fiber.Ctx) error {
	var req callbackRequest
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return apperr.BadRequest("No authentication code provided")
	}

	cred, profile, err := h.oauth.HandleCallback(c.UserContext(), req.Code)
	if err != nil {
		return routeError(err, "Authentication failed")
	}

	h.session.Set(c, cred)
	return c.JSON(fiber.Map{
		"user_info":     profile,
		"access_token":  cred.AccessToken,
		"refresh_token": cred.RefreshToken,
	})
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	refreshToken := c.Cookies(CookieRefreshToken)
	if refreshToken == "" {
		return apperr.Unauthorized("No refresh token available")
	}

	cred, err := h.oauth.RefreshSession(c.UserContext(), c.Cookies(CookieUserEmail), refreshToken)
	if err != nil {
		return routeError(err, "Failed to refresh token")
	}
	h.session.Set(c, cred)
	return c.JSON(fiber.Map{"success": true})
}

func (h *AuthHandler) GetAccount(c *fiber.Ctx) error {
	email := c.Cookies(CookieUserEmail)
	if email == "" {
		return apperr.Unauthorized("Not authenticated")
	}
	cred, err := h.oauth.Account(c.UserContext(), email)
	if err != nil {
		return routeError(err, "Failed to fetch account")
	}
	return c.JSON(accountView(cred))
}

func (h *AuthHandler) DeleteAccount(c *fiber.Ctx) error {
	email := c.Cookies(CookieUserEmail)
	if email == "" {
		return apperr.Unauthorized("Not authenticated")
	}
	if err := h.oauth.DeleteAccount(c.UserContext(), email); err != nil {
		return routeError(err, "Failed to delete account")
	}
	h.session.Clear(c)
	return c.JSON(fiber.Map{"message": "Account deleted"})
}

func accountView(cred *domain.Credential) fiber.Map {
	return fiber.Map{
		"email":      cred.Email,
		"name":       cred.Name,
		"picture":    cred.Picture,
		"last_login": cred.LastLogin,
		"created_at": cred.CreatedAt,
	}
}
