package mail

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"inbox_server/core/domain"
	"inbox_server/core/service/auth"
	"inbox_server/pkg/apperr"
	"inbox_server/pkg/logger"
)

const (
	maxDrafts          = 100
	defaultContextSize = 100
)

// =============================================================================
// Drafts
// =============================================================================

// Drafts returns up to 100 drafts with full content, in Gmail order.
func (s *Service) Drafts(ctx context.Context, cred *domain.Credential) ([]*domain.Draft, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return auth.WithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) ([]*domain.Draft, error) {
		ids, err := s.provider.ListDrafts(ctx, token, maxDrafts)
		if err != nil {
			return nil, err
		}

		drafts := make([]*domain.Draft, len(ids))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(fetchConcurrency)
		for i, id := range ids {
			i, id := i, id
			g.Go(func() error {
				d, err := s.provider.GetDraft(gctx, token, id)
				if err != nil {
					return err
				}
				drafts[i] = d
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return drafts, nil
	})
}

// Draft returns one draft.
func (s *Service) Draft(ctx context.Context, cred *domain.Credential, id string) (*domain.Draft, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apperr.BadRequest("draftId is required")
	}
	return auth.WithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) (*domain.Draft, error) {
		return s.provider.GetDraft(ctx, token, id)
	})
}

func (s *Service) DeleteDraft(ctx context.Context, cred *domain.Credential, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if id == "" {
		return apperr.BadRequest("draftId is required")
	}
	return auth.DoWithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) error {
		return s.provider.DeleteDraft(ctx, token, id)
	})
}

// SendDraft sends a saved draft; Gmail removes it from the drafts list.
func (s *Service) SendDraft(ctx context.Context, cred *domain.Credential, id string) (*domain.SendResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apperr.BadRequest("draftId is required")
	}
	result, err := auth.WithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) (*domain.SendResult, error) {
		return s.provider.SendDraft(ctx, token, id)
	})
	if err != nil {
		return nil, err
	}
	logger.WithFields(map[string]any{"email": cred.Email, "draft_id": id, "message_id": result.ID}).Info("[MailService.SendDraft] draft sent")
	return result, nil
}

// =============================================================================
// Replies
// =============================================================================

// Reply sends a plain-text answer to an existing message, threaded through its
// Message-ID and References headers.
func (s *Service) Reply(ctx context.Context, cred *domain.Credential, req *domain.ReplyRequest) (*domain.SendResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	to := splitAddresses(req.To)
	if len(to) == 0 || strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Content) == "" || req.OriginalMessageID == "" {
		return nil, apperr.BadRequest("Missing required fields")
	}

	result, err := auth.WithAuthRetry(ctx, s.refresher, cred, func(ctx context.Context, token string) (*domain.SendResult, error) {
		original, err := s.provider.GetMessage(ctx, token, req.OriginalMessageID)
		if err != nil {
			return nil, err
		}
		return s.provider.Send(ctx, token, &domain.OutgoingMessage{
			From:       cred.Email,
			To:         to,
			Subject:    req.Subject,
			Body:       req.Content,
			ThreadID:   original.ThreadID,
			InReplyTo:  original.MessageID,
			References: replyReferences(original.References, original.MessageID),
		})
	})
	if err != nil {
		return nil, err
	}
	logger.WithFields(map[string]any{
		"email":       cred.Email,
		"message_id":  result.ID,
		"in_reply_to": req.OriginalMessageID,
	}).Info("[MailService.Reply] reply sent")
	return result, nil
}

func replyReferences(references, messageID string) string {
	switch {
	case references != "" && messageID != "":
		return references + " " + messageID
	case messageID != "":
		return messageID
	default:
		return references
	}
}

func splitAddresses(s string) []string {
	var addrs []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			addrs = append(addrs, part)
		}
	}
	return addrs
}

// =============================================================================
// Context
// =============================================================================

// Context runs a Gmail search for the compose assistant. It defaults to 100
// results instead of a page.
func (s *Service) Context(ctx context.Context, cred *domain.Credential, query string, maxResults int) (*ListResult, error) {
	if maxResults <= 0 {
		maxResults = defaultContextSize
	}
	return s.List(ctx, cred, ListOptions{Query: query, MaxResults: maxResults})
}
