package http

import (
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"

	"inbox_server/core/service/notification"
	"inbox_server/pkg/apperr"
	"inbox_server/pkg/logger"
	"inbox_server/pkg/metrics"
)

type WebhookMetrics struct {
	Received  int64
	Processed int64
	Invalid   int64
	Errors    int64
}

// WebhookHandler receives Gmail Pub/Sub pushes and registers mailbox watches.
type WebhookHandler struct {
	processor *notification.Processor
	watch     *notification.WatchService
	metrics   WebhookMetrics
	latency   *metrics.LatencyTracker
}

func NewWebhookHandler(processor *notification.Processor, watch *notification.WatchService) *WebhookHandler {
	return &WebhookHandler{processor: processor, watch: watch, latency: metrics.NewLatencyTracker(500)}
}

func (h *WebhookHandler) GetMetrics() WebhookMetrics {
	return WebhookMetrics{
		Received:  atomic.LoadInt64(&h.metrics.Received),
		Processed: atomic.LoadInt64(&h.metrics.Processed),
		Invalid:   atomic.LoadInt64(&h.metrics.Invalid),
		Errors:    atomic.LoadInt64(&h.metrics.Errors),
	}
}

func (h *WebhookHandler) Register(router fiber.Router) {
	webhook := router.Group("/webhook")
	webhook.Post("/gmail", h.GmailWebhook)
	webhook.Get("/gmail", h.GmailWebhookInfo)
	webhook.Post("/setup", h.Setup)
	webhook.Get("/setup", h.SetupInfo)
	webhook.Get("/metrics", h.Metrics)
}

// GmailWebhook processes one push delivery. Every well-formed envelope is
// acknowledged with 200 whether or not the fetch cycle succeeded, so Pub/Sub
// does not redeliver for downstream failures.
func (h *WebhookHandler) GmailWebhook(c *fiber.Ctx) (err error) {
	atomic.AddInt64(&h.metrics.Received, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&h.metrics.Errors, 1)
			logger.Error("[WebhookHandler.GmailWebhook] panic: %v", r)
			err = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
		}
	}()

	_, n, decodeErr := notification.DecodeEnvelope(c.Body())
	if decodeErr != nil {
		atomic.AddInt64(&h.metrics.Invalid, 1)
		logger.WithError(decodeErr).Warn("[WebhookHandler.GmailWebhook] rejected push body")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message format"})
	}

	start := time.Now()
	if h.processor == nil {
		logger.Warn("[WebhookHandler.GmailWebhook] processor not configured, notification dropped")
	} else if _, procErr := h.processor.Process(c.UserContext(), n); procErr != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		logger.WithError(procErr).WithField("email", n.EmailAddress).Error("[WebhookHandler.GmailWebhook] processing failed")
	} else {
		atomic.AddInt64(&h.metrics.Processed, 1)
	}
	h.latency.Since(start)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Email notification received and processed",
	})
}

func (h *WebhookHandler) GmailWebhookInfo(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message":      "Gmail webhook endpoint is active",
		"instructions": "This endpoint expects POST requests from Google Pub/Sub with new email notifications",
	})
}

type setupRequest struct {
	AccessToken string   `json:"accessToken"`
	TopicName   string   `json:"topicName"`
	LabelIDs    []string `json:"labelIds"`
}

func (h *WebhookHandler) Setup(c *fiber.Ctx) error {
	var req setupRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("Invalid request body")
	}
	if h.watch == nil {
		return apperr.ConfigError("Gmail is not configured")
	}

	res, err := h.watch.Setup(c.UserContext(), req.AccessToken, req.TopicName, req.LabelIDs)
	if err != nil {
		if appErr := apperr.AsAppError(err); appErr != nil && appErr.Status == fiber.StatusBadRequest {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": appErr.Message})
		}
		logger.WithError(err).Error("[WebhookHandler.Setup] watch failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to set up webhook subscription",
			"details": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Gmail webhook subscription created successfully",
		"data": fiber.Map{
			"success":    true,
			"historyId":  res.HistoryID,
			"expiration": res.ExpirationMs,
		},
	})
}

func (h *WebhookHandler) SetupInfo(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message":      "Gmail webhook setup endpoint",
		"instructions": "Send a POST request with accessToken and topicName to set up webhook subscriptions",
		"example": fiber.Map{
			"method": "POST",
			"body": fiber.Map{
				"accessToken": "your_access_token_here",
				"topicName":   "projects/your-project/topics/your-topic",
				"labelIds":    []string{"INBOX", "SENT"},
			},
		},
	})
}

func (h *WebhookHandler) Metrics(c *fiber.Ctx) error {
	m := h.GetMetrics()
	return c.JSON(fiber.Map{
		"received":  m.Received,
		"processed": m.Processed,
		"invalid":   m.Invalid,
		"errors":    m.Errors,
		"latency":   h.latency.Stats().ToMap(),
	})
}
