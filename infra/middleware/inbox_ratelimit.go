package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimit is one fixed-window bucket keyed by client IP.
type RateLimit struct {
	Name   string
	Max    int
	Window time.Duration
}

var (
	DefaultLimit = RateLimit{Name: "default", Max: 300, Window: time.Minute}
	AuthLimit    = RateLimit{Name: "auth", Max: 100, Window: 15 * time.Minute}
	EmailLimit   = RateLimit{Name: "email", Max: 500, Window: time.Hour}
	AILimit      = RateLimit{Name: "ai", Max: 20, Window: time.Minute}
)

// Limiter enforces rl. Each call builds an independent counter store.
func Limiter(rl RateLimit) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        rl.Max,
		Expiration: rl.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return rl.Name + ":" + ClientIP(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			retryAfter, _ := strconv.Atoi(string(c.Response().Header.Peek(fiber.HeaderRetryAfter)))
			if retryAfter == 0 {
				retryAfter = int(rl.Window.Seconds())
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":      "Too many requests, please try again later.",
				"retryAfter": retryAfter,
			})
		},
	})
}

// ClientIP prefers proxy headers set by Cloudflare and load balancers.
func ClientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if fwd := c.Get(fiber.HeaderXForwardedFor); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(c.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return c.IP()
}
