package http

import (
	"encoding/base64"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/core/service/mail"
	"inbox_server/pkg/apperr"
	"inbox_server/pkg/logger"
)

// EmailHandler serves the cookie-authenticated Gmail routes.
type EmailHandler struct {
	mail    *mail.Service
	session Session
}

func NewEmailHandler(mailSvc *mail.Service, session Session) *EmailHandler {
	return &EmailHandler{mail: mailSvc, session: session}
}

func (h *EmailHandler) Register(router fiber.Router) {
	emails := router.Group("/emails")
	emails.Get("/", h.ListEmails)
	emails.Get("/list", h.ListFolder)
	emails.Get("/thread/:threadId", h.GetThread)
	emails.Get("/attachments/:messageId/:attachmentId", h.GetAttachment)
	emails.Get("/context", h.GetContext)
	emails.Get("/draft", h.ListDrafts)
	emails.Delete("/draft", h.DeleteDraft)
	emails.Get("/draft/:id", h.GetDraft)
	emails.Post("/draft/send", h.SendDraft)
	emails.Get("/:id", h.GetEmail)
	emails.Post("/content", h.GetContents)
	emails.Post("/send", h.SendEmail)
	emails.Post("/star", h.StarEmail)
	emails.Post("/delete", h.DeleteEmail)
	emails.Post("/reply", h.Reply)
}

// withSession runs fn with the cookie credential and re-issues cookies when
// fn refreshed the token pair.
func (h *EmailHandler) withSession(c *fiber.Ctx, fn func(cred *domain.Credential) error) error {
	cred, err := credentialFromCookies(c)
	if err != nil {
		return err
	}
	before := *cred
	err = fn(cred)
	h.session.syncSession(c, before, cred)
	return err
}

func (h *EmailHandler) ListEmails(c *fiber.Ctx) error {
	return h.withSession(c, func(cred *domain.Credential) error {
		res, err := h.mail.List(c.UserContext(), cred, mail.ListOptions{
			Query:      c.Query("q"),
			PageToken:  c.Query("pageToken"),
			MaxResults: c.QueryInt("maxResults", 0),
		})
		if err != nil {
			return routeError(err, "Failed to fetch emails")
		}
		return c.JSON(fiber.Map{"emails": nonNil(res.Emails), "nextPageToken": res.NextPageToken})
	})
}

func (h *EmailHandler) ListFolder(c *fiber.Ctx) error {
	return h.withSession(c, func(cred *domain.Credential) error {
		res, err := h.mail.List(c.UserContext(), cred, mail.ListOptions{
			Folder:    c.Query("folder", "inbox"),
			PageToken: c.Query("pageToken"),
		})
		if err != nil {
			return routeError(err, "Failed to fetch emails")
		}
		return c.JSON(fiber.Map{"messages": nonNil(res.Emails), "nextPageToken": res.NextPageToken})
	})
}

func (h *EmailHandler) GetEmail(c *fiber.Ctx) error {
	return h.withSession(c, func(cred *domain.Credential) error {
		msg, err := h.mail.Get(c.UserContext(), cred, c.Params("id"))
		if err != nil {
			return routeError(err, "Failed to fetch email")
		}
		return c.JSON(msg)
	})
}

type emailIDsRequest struct {
	EmailIDs []string `json:"emailIds"`
}

func (h *EmailHandler) GetContents(c *fiber.Ctx) error {
	var req emailIDsRequest
	if err := c.BodyParser(&req); err != nil || len(req.EmailIDs) == 0 {
		return apperr.BadRequest("Invalid or missing emailIds in request body")
	}
	return h.withSession(c, func(cred *domain.Credential) error {
		emails, err := h.mail.Contents(c.UserContext(), cred, req.EmailIDs)
		if err != nil {
			return routeError(err, "Failed to fetch email contents")
		}
		return c.JSON(fiber.Map{
			"emailContents":  nonNil(emails),
			"requestedCount": len(req.EmailIDs),
			"fetchedCount":   len(emails),
		})
	})
}

func (h *EmailHandler) GetThread(c *fiber.Ctx) error {
	return h.withSession(c, func(cred *domain.Credential) error {
		thread, err := h.mail.Thread(c.UserContext(), cred, c.Params("threadId"))
		if err != nil {
			return routeError(err, "Failed to fetch thread")
		}
		var main *domain.MessageSummary
		if len(thread.Messages) > 0 {
			main = thread.Messages[0]
		}
		return c.JSON(fiber.Map{
			"id":        thread.ID,
			"messages":  nonNil(thread.Messages),
			"mainEmail": main,
		})
	})
}

type sendRequest struct {
	To         any    `json:"to" form:"to"`
	Subject    string `json:"subject" form:"subject"`
	Content    string `json:"content" form:"content"`
	ThreadID   string `json:"threadId" form:"threadId"`
	InReplyTo  string `json:"inReplyTo" form:"inReplyTo"`
	References string `json:"references" form:"references"`
}

// SendEmail accepts JSON or multipart/form-data with "attachments" files.
func (h *EmailHandler) SendEmail(c *fiber.Ctx) error {
	if c.Cookies(CookieAccessToken) == "" || c.Cookies(CookieUserEmail) == "" {
		return apperr.Unauthorized("Not authenticated")
	}

	msg := &domain.OutgoingMessage{IsHTML: true}
	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return apperr.BadRequest("Invalid multipart body")
		}
		msg.To = stringList(c.FormValue("to"))
		msg.Subject = c.FormValue("subject")
		msg.Body = c.FormValue("content")
		msg.ThreadID = c.FormValue("threadId")
		msg.InReplyTo = c.FormValue("inReplyTo")
		msg.References = c.FormValue("references")

		for _, fh := range form.File["attachments"] {
			if fh.Size <= 0 {
				continue
			}
			f, err := fh.Open()
			if err != nil {
				return routeError(err, "Failed to send email")
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return routeError(err, "Failed to send email")
			}
			msg.Attachments = append(msg.Attachments, domain.OutgoingAttachment{
				Filename: fh.Filename,
				MimeType: fh.Header.Get(fiber.HeaderContentType),
				Data:     data,
			})
		}
	} else {
		var req sendRequest
		if err := c.BodyParser(&req); err != nil {
			return apperr.BadRequest("Invalid request body")
		}
		msg.To = stringList(req.To)
		msg.Subject = req.Subject
		msg.Body = req.Content
		msg.ThreadID = req.ThreadID
		msg.InReplyTo = req.InReplyTo
		msg.References = req.References
	}

	return h.withSession(c, func(cred *domain.Credential) error {
		res, err := h.mail.Send(c.UserContext(), cred, msg)
		if err != nil {
			return routeError(err, "Failed to send email")
		}
		return c.JSON(fiber.Map{
			"success":         true,
			"messageId":       res.ID,
			"attachmentCount": len(msg.Attachments),
		})
	})
}

type starRequest struct {
	MessageID string `json:"messageId"`
	Star      bool   `json:"star"`
}

func (h *EmailHandler) StarEmail(c *fiber.Ctx) error {
	var req starRequest
	if err := c.BodyParser(&req); err != nil || req.MessageID == "" {
		return apperr.BadRequest("Message ID is required")
	}
	return h.withSession(c, func(cred *domain.Credential) error {
		if err := h.mail.Star(c.UserContext(), cred, req.MessageID, req.Star); err != nil {
			return routeError(err, "Failed to update star status")
		}
		return c.JSON(fiber.Map{"success": true, "starred": req.Star})
	})
}

type deleteRequest struct {
	MessageID string `json:"messageId"`
	Action    string `json:"action"`
}

func (h *EmailHandler) DeleteEmail(c *fiber.Ctx) error {
	var req deleteRequest
	if err := c.BodyParser(&req); err != nil || req.MessageID == "" {
		return apperr.BadRequest("Message ID is required")
	}
	action := domain.DeleteAction(req.Action)
	if action == "" {
		action = domain.DeleteActionTrash
	}
	return h.withSession(c, func(cred *domain.Credential) error {
		if err := h.mail.Delete(c.UserContext(), cred, req.MessageID, action); err != nil {
			return routeError(err, "Failed to delete email")
		}
		logger.WithFields(map[string]any{"message_id": req.MessageID, "action": action}).Info("[EmailHandler.DeleteEmail] done")
		return c.JSON(fiber.Map{"success": true, "action": action, "messageId": req.MessageID})
	})
}

func (h *EmailHandler) GetAttachment(c *fiber.Ctx) error {
	return h.withSession(c, func(cred *domain.Credential) error {
		data, err := h.mail.Attachment(c.UserContext(), cred, c.Params("messageId"), c.Params("attachmentId"))
		if err != nil {
			return routeError(err, "Failed to fetch attachment")
		}
		return c.JSON(fiber.Map{
			"data": base64.StdEncoding.EncodeToString(data.Data),
			"size": data.Size,
		})
	})
}

// GetContext feeds the compose assistant with a wider search than ListEmails.
func (h *EmailHandler) GetContext(c *fiber.Ctx) error {
	query := c.Query("query")
	return h.withSession(c, func(cred *domain.Credential) error {
		res, err := h.mail.Context(c.UserContext(), cred, query, c.QueryInt("maxResults", 0))
		if err != nil {
			return routeError(err, "Failed to fetch email context")
		}
		var q any
		if query != "" {
			q = query
		}
		return c.JSON(fiber.Map{
			"emailContext":  nonNil(res.Emails),
			"nextPageToken": res.NextPageToken,
			"query":         q,
		})
	})
}

type replyRequest struct {
	To                string `json:"to"`
	Subject           string `json:"subject"`
	Content           string `json:"content"`
	OriginalMessageID string `json:"originalMessageId"`
}

func (h *EmailHandler) Reply(c *fiber.Ctx) error {
	if c.Cookies(CookieAccessToken) == "" || c.Cookies(CookieUserEmail) == "" {
		return apperr.Unauthorized("Not authenticated")
	}
	var req replyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("Missing required fields")
	}
	return h.withSession(c, func(cred *domain.Credential) error {
		res, err := h.mail.Reply(c.UserContext(), cred, &domain.ReplyRequest{
			To:                req.To,
			Subject:           req.Subject,
			Content:           req.Content,
			OriginalMessageID: req.OriginalMessageID,
		})
		if err != nil {
			return routeError(err, "Failed to send reply")
		}
		return c.JSON(fiber.Map{"success": true, "messageId": res.ID, "threadId": res.ThreadID})
	})
}

// =============================================================================
// Drafts
// =============================================================================

type draftRequest struct {
	DraftID string `json:"draftId"`
}

func (h *EmailHandler) ListDrafts(c *fiber.Ctx) error {
	return h.withSession(c, func(cred *domain.Credential) error {
		drafts, err := h.mail.Drafts(c.UserContext(), cred)
		if err != nil {
			return routeError(err, "Failed to fetch drafts")
		}
		return c.JSON(fiber.Map{"drafts": nonNil(drafts)})
	})
}

func (h *EmailHandler) GetDraft(c *fiber.Ctx) error {
	return h.withSession(c, func(cred *domain.Credential) error {
		draft, err := h.mail.Draft(c.UserContext(), cred, c.Params("id"))
		if out.ProviderErrorCodeOf(err) == out.ProviderErrNotFound {
			return apperr.NotFound("Draft").WithError(err)
		}
		if err != nil {
			return routeError(err, "Failed to fetch draft")
		}
		return c.JSON(fiber.Map{"draft": draft})
	})
}

func (h *EmailHandler) DeleteDraft(c *fiber.Ctx) error {
	var req draftRequest
	if err := c.BodyParser(&req); err != nil || req.DraftID == "" {
		return apperr.BadRequest("draftId is required")
	}
	return h.withSession(c, func(cred *domain.Credential) error {
		if err := h.mail.DeleteDraft(c.UserContext(), cred, req.DraftID); err != nil {
			return routeError(err, "Failed to delete draft")
		}
		return c.JSON(fiber.Map{"success": true})
	})
}

func (h *EmailHandler) SendDraft(c *fiber.Ctx) error {
	var req draftRequest
	if err := c.BodyParser(&req); err != nil || req.DraftID == "" {
		return apperr.BadRequest("draftId is required")
	}
	return h.withSession(c, func(cred *domain.Credential) error {
		res, err := h.mail.SendDraft(c.UserContext(), cred, req.DraftID)
		if err != nil {
			return routeError(err, "Failed to send draft")
		}
		return c.JSON(res)
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
