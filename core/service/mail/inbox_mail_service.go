package mail

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/core/service/auth"
	"inbox_server/pkg/apperr"
	"inbox_server/pkg/logger"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 100
	maxContentIDs    = 30
	fetchConcurrency = 10
)

// Service wraps every Gmail call in the auth retry wrapper. Callers pass the
// session credential; after a refresh it carries the new token pair.
type Service struct {
	provider  out.MailProvider
	refresher *auth.Refresher
}

func NewService(provider out.MailProvider, refresher *auth.Refresher) *Service {
	return &Service{provider: provider, refresher: refresher}
}

type ListOptions struct {
	Query      string
	PageToken  string
	MaxResults int
	Folder     string // inbox or sent, ignored when Query is set
}

type ListResult struct {
	Emails        []*domain.MessageSummary
	NextPageToken string
}

func (s *Service) ready() error {
	if s.provider == nil {
		return apperr.ConfigError("Gmail is not configured")
	}
	return nil
}

// List returns one page of messages with full content.
func (s *Service) List(ctx context.Context, cred *domain.Credential, opts ListOptions) (*ListResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	q := &domain.ListQuery{
		Query:      strings.TrimSpace(opts.Query),
		PageToken:  opts.PageToken,
		MaxResults: int64(clampPageSize(opts.MaxResults)),
	}
	if q.Query == "" {
		label := "INBOX"
		if strings.EqualFold(opts.Folder, "sent") {
			label = "SENT"
		}
		q.LabelIDs = []string{label}
	}

	return auth.WithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) (*ListResult, error) {
		list, err := s.provider.ListMessages(ctx, token, q)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(list.Messages))
		for i, m := range list.Messages {
			ids[i] = m.ID
		}
		emails, err := s.fetchAll(ctx, token, ids)
		if err != nil {
			return nil, err
		}
		return &ListResult{Emails: emails, NextPageToken: list.NextPageToken}, nil
	})
}

// Get returns one message.
func (s *Service) Get(ctx context.Context, cred *domain.Credential, id string) (*domain.MessageSummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apperr.MissingField("id")
	}
	return auth.WithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) (*domain.MessageSummary, error) {
		return s.provider.GetMessage(ctx, token, id)
	})
}

// Contents fetches full content for up to 30 ids, preserving order.
func (s *Service) Contents(ctx context.Context, cred *domain.Credential, ids []string) ([]*domain.MessageSummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperr.BadRequest("Invalid or missing emailIds in request body")
	}
	if len(ids) > maxContentIDs {
		ids = ids[:maxContentIDs]
	}
	return auth.WithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) ([]*domain.MessageSummary, error) {
		return s.fetchAll(ctx, token, ids)
	})
}

// Thread returns a conversation.
func (s *Service) Thread(ctx context.Context, cred *domain.Credential, threadID string) (*domain.Thread, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, apperr.MissingField("threadId")
	}
	return auth.WithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) (*domain.Thread, error) {
		return s.provider.GetThread(ctx, token, threadID)
	})
}

// Send composes and sends a message from the session's mailbox.
func (s *Service) Send(ctx context.Context, cred *domain.Credential, msg *domain.OutgoingMessage) (*domain.SendResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(msg.To) == 0 || strings.TrimSpace(msg.Subject) == "" || strings.TrimSpace(msg.Body) == "" {
		return nil, apperr.BadRequest("Missing required fields")
	}
	if msg.From == "" {
		msg.From = cred.Email
	}

	result, err := auth.WithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) (*domain.SendResult, error) {
		return s.provider.Send(ctx, token, msg)
	})
	if err != nil {
		return nil, err
	}
	logger.WithFields(map[string]any{
		"email":       cred.Email,
		"message_id":  result.ID,
		"attachments": len(msg.Attachments),
	}).Info("[MailService.Send] message sent")
	return result, nil
}

// Star adds or removes the STARRED label.
func (s *Service) Star(ctx context.Context, cred *domain.Credential, id string, star bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	if id == "" {
		return apperr.BadRequest("Message ID is required")
	}
	return auth.DoWithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) error {
		return s.provider.SetStarred(ctx, token, id, star)
	})
}

// Delete trashes, restores or permanently deletes a message.
func (s *Service) Delete(ctx context.Context, cred *domain.Credential, id string, action domain.DeleteAction) error {
	if err := s.ready(); err != nil {
		return err
	}
	if id == "" {
		return apperr.BadRequest("Message ID is required")
	}
	if action == "" {
		action = domain.DeleteActionTrash
	}
	if !action.Valid() {
		return apperr.BadRequest(`Invalid action. Use "trash", "permanent", or "restore"`)
	}

	return auth.DoWithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) error {
		switch action {
		case domain.DeleteActionPermanent:
			return s.provider.Delete(ctx, token, id)
		case domain.DeleteActionRestore:
			return s.provider.Untrash(ctx, token, id)
		default:
			return s.provider.Trash(ctx, token, id)
		}
	})
}

// Attachment downloads an attachment body.
func (s *Service) Attachment(ctx context.Context, cred *domain.Credential, messageID, attachmentID string) (*domain.AttachmentData, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if messageID == "" || attachmentID == "" {
		return nil, apperr.BadRequest("messageId and attachmentId are required")
	}
	data, err := auth.WithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) (*domain.AttachmentData, error) {
		return s.provider.GetAttachment(ctx, token, messageID, attachmentID)
	})
	if err != nil {
		return nil, err
	}
	if data == nil || len(data.Data) == 0 {
		return nil, apperr.NotFound("attachment")
	}
	return data, nil
}

// fetchAll fetches messages concurrently and returns them in ids order. The
// first failure cancels the rest.
func (s *Service) fetchAll(ctx context.Context, token string, ids []string) ([]*domain.MessageSummary, error) {
	results := make([]*domain.MessageSummary, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			msg, err := s.provider.GetMessage(gctx, token, id)
			if err != nil {
				return err
			}
			results[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	default:
		return n
	}
}
