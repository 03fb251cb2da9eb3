package http

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"inbox_server/core/domain"
	"inbox_server/core/service/ai"
	"inbox_server/pkg/apperr"
)

// AIHandler serves flagging, summaries and draft generation.
type AIHandler struct {
	ai      *ai.Service
	session Session
}

func NewAIHandler(aiSvc *ai.Service, session Session) *AIHandler {
	return &AIHandler{ai: aiSvc, session: session}
}

func (h *AIHandler) Register(router fiber.Router) {
	router.Post("/emails/flagged", h.Flag)
	router.Post("/emails/summarize", h.Summarize)
	router.Post("/generate", h.Generate)
	router.Post("/emails/tldr", h.TLDR)
	router.Post("/generate-reply-choices", h.ReplyChoices)
	router.Post("/autocomplete", h.Autocomplete)
}

type flagRequest struct {
	Emails json.RawMessage `json:"emails"`
}

func (h *AIHandler) Flag(c *fiber.Ctx) error {
	var req flagRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return apperr.BadRequest("Invalid request")
	}
	var emails []domain.FlagInput
	if len(req.Emails) == 0 || req.Emails[0] != '[' || json.Unmarshal(req.Emails, &emails) != nil {
		return apperr.BadRequest("Invalid request")
	}

	flagged, err := h.ai.Flag(c.UserContext(), emails)
	if err != nil {
		return routeError(err, "Failed to flag emails")
	}
	return c.JSON(fiber.Map{"flagged": nonNil(flagged)})
}

func (h *AIHandler) Summarize(c *fiber.Ctx) error {
	var req emailIDsRequest
	if err := c.BodyParser(&req); err != nil || len(req.EmailIDs) == 0 {
		return apperr.BadRequest("Invalid email IDs")
	}

	cred, err := credentialFromCookies(c)
	if err != nil {
		return err
	}
	before := *cred
	summary, err := h.ai.Summarize(c.UserContext(), cred, req.EmailIDs)
	h.session.syncSession(c, before, cred)
	if err != nil {
		return routeError(err, "Failed to summarize emails")
	}
	return c.JSON(summary)
}

type generateRequest struct {
	Prompt   string `json:"prompt"`
	Type     string `json:"type"`
	UserName string `json:"userName"`
}

func (h *AIHandler) Generate(c *fiber.Ctx) error {
	var req generateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("Invalid request body")
	}

	switch req.Type {
	case "subject":
		subject, err := h.ai.GenerateSubject(c.UserContext(), req.Prompt, req.UserName)
		if err != nil {
			return routeError(err, "Failed to generate content")
		}
		return c.JSON(fiber.Map{"subject": subject})
	case "content":
		content, err := h.ai.GenerateContent(c.UserContext(), req.Prompt, req.UserName)
		if err != nil {
			return routeError(err, "Failed to generate content")
		}
		return c.JSON(fiber.Map{"content": content})
	default:
		return apperr.BadRequest("Invalid generation type")
	}
}

type tldrRequest struct {
	EmailContent string `json:"emailContent"`
	Subject      string `json:"subject"`
}

func (h *AIHandler) TLDR(c *fiber.Ctx) error {
	var req tldrRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("Email content is required")
	}
	summary, err := h.ai.TLDR(c.UserContext(), req.EmailContent, req.Subject)
	if err != nil {
		return routeError(err, "Failed to generate TLDR summary")
	}
	return c.JSON(fiber.Map{"summary": summary})
}

type replyChoicesRequest struct {
	OriginalSubject string `json:"originalSubject"`
	OriginalContent string `json:"originalContent"`
	RecipientEmail  string `json:"recipientEmail"`
}

func (h *AIHandler) ReplyChoices(c *fiber.Ctx) error {
	var req replyChoicesRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("Original subject and content are required")
	}
	choices, err := h.ai.ReplyChoices(c.UserContext(), req.OriginalSubject, req.OriginalContent, req.RecipientEmail)
	if err != nil {
		return routeError(err, "Failed to generate reply choices")
	}
	return c.JSON(fiber.Map{"choices": nonNil(choices)})
}

type autocompleteRequest struct {
	Sentence string                  `json:"sentence"`
	UserData domain.AutocompleteUser `json:"userData"`
}

// Autocomplete needs a signed-in user but never calls Gmail, so the access
// token is only checked for presence.
func (h *AIHandler) Autocomplete(c *fiber.Ctx) error {
	if !h.ai.Configured() {
		return apperr.ConfigError("GROQ_API_KEY not configured")
	}
	if c.Cookies(CookieAccessToken) == "" {
		return apperr.Unauthorized("Not authenticated")
	}
	var req autocompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("Invalid sentence")
	}
	completion, err := h.ai.Autocomplete(c.UserContext(), req.Sentence, req.UserData)
	if err != nil {
		return routeError(err, "Autocomplete failed")
	}
	return c.JSON(fiber.Map{"completion": completion})
}
