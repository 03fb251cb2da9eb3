package middleware

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"inbox_server/pkg/apperr"
	"inbox_server/pkg/logger"
)

const LocalRequestID = "request_id"

// ErrorResponse is the error body for every failed API call.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ErrorHandler renders returned errors. Messages of 5xx AppErrors are kept;
// anything else unexpected becomes a generic 500.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals(LocalRequestID).(string)
		response := ErrorResponse{RequestID: requestID}

		var (
			status   int
			appErr   *apperr.AppError
			fiberErr *fiber.Error
		)
		switch {
		case errors.As(err, &appErr):
			status = appErr.Status
			response.Error = appErr.Message
			response.Code = appErr.Code
			response.Details = appErr.Details

			log := logger.WithField("request_id", requestID).
				WithField("error_code", appErr.Code).
				WithError(appErr.Err)
			if status >= 500 {
				log.Error("[ErrorHandler] %s %s: %s", c.Method(), c.Path(), appErr.Message)
			} else {
				log.Warn("[ErrorHandler] %s %s: %s", c.Method(), c.Path(), appErr.Message)
			}

		case errors.As(err, &fiberErr):
			status = fiberErr.Code
			response.Error = fiberErr.Message
			response.Code = mapHTTPStatusToCode(fiberErr.Code)

		default:
			status = fiber.StatusInternalServerError
			response.Error = "Internal server error"
			response.Code = apperr.CodeInternalError
			logger.WithField("request_id", requestID).
				WithError(err).
				Error("[ErrorHandler] unexpected error on %s %s", c.Method(), c.Path())
		}

		return c.Status(status).JSON(response)
	}
}

// RequestID propagates X-Request-ID or assigns a new one.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Locals(LocalRequestID, requestID)
		c.Set(fiber.HeaderXRequestID, requestID)
		return c.Next()
	}
}

func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// Render now so the logged status is the one the client sees.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
			err = nil
		}

		requestID, _ := c.Locals(LocalRequestID).(string)
		status := c.Response().StatusCode()
		log := logger.WithFields(map[string]any{
			"request_id": requestID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"ip":         ClientIP(c),
		}).WithDuration(time.Since(start))

		switch {
		case status >= 500:
			log.Error("[RequestLogger] %s %s -> %d", c.Method(), c.Path(), status)
		case status >= 400:
			log.Warn("[RequestLogger] %s %s -> %d", c.Method(), c.Path(), status)
		default:
			log.Info("[RequestLogger] %s %s -> %d", c.Method(), c.Path(), status)
		}
		return err
	}
}

// Recover turns a handler panic into a 500.
func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Locals(LocalRequestID).(string)
				logger.WithFields(map[string]any{
					"request_id": requestID,
					"panic":      fmt.Sprintf("%v", r),
					"path":       c.Path(),
					"method":     c.Method(),
					"stack":      string(debug.Stack()),
				}).Error("[Recover] panic recovered")

				err = c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
					Error:     "Internal server error",
					Code:      apperr.CodeInternalError,
					RequestID: requestID,
				})
			}
		}()
		return c.Next()
	}
}

// SecurityHeaders sets conservative browser security headers.
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		return c.Next()
	}
}

func mapHTTPStatusToCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return apperr.CodeBadRequest
	case fiber.StatusUnauthorized:
		return apperr.CodeUnauthorized
	case fiber.StatusForbidden:
		return apperr.CodeForbidden
	case fiber.StatusNotFound:
		return apperr.CodeNotFound
	case fiber.StatusRequestEntityTooLarge:
		return apperr.CodePayloadTooLarge
	case fiber.StatusTooManyRequests:
		return apperr.CodeRateLimited
	default:
		if status >= 500 {
			return apperr.CodeInternalError
		}
		return "UNKNOWN_ERROR"
	}
}
