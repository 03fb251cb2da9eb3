// Package gmail provides the Gmail REST adapter.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/pkg/httputil"
	"inbox_server/pkg/logger"
)

const (
	providerName   = "gmail"
	me             = "me"
	labelStarred   = "STARRED"
	labelUnread    = "UNREAD"
	requestTimeout = 30 * time.Second
)

// Client implements out.MailProvider against the Gmail REST API.
type Client struct {
	endpoint   string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

type Config struct {
	// Endpoint overrides the API base URL. Empty means Google's default.
	Endpoint   string
	HTTPClient *http.Client
}

var _ out.MailProvider = (*Client)(nil)

func NewClient(cfg Config) *Client {
	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// Client errors (bad token, missing message) are per-user and must not
		// trip the shared breaker.
		IsSuccessful: func(err error) bool {
			var nce *nonCircuitError
			return err == nil || errors.As(err, &nce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httputil.NewClient(httputil.GoogleClientConfig())
	}
	return &Client{endpoint: cfg.Endpoint, httpClient: httpClient, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (c *Client) service(ctx context.Context, accessToken string) (*gmailapi.Service, error) {
	base := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(base, ts))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, out.NewProviderError(providerName, out.ProviderErrServer, "failed to create gmail service", err, false)
	}
	return svc, nil
}

// call runs fn under the circuit breaker with a default deadline.
func (c *Client) call(ctx context.Context, operation, accessToken string, fn func(ctx context.Context, svc *gmailapi.Service) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := c.executeWithCircuitBreaker(operation, func() error { return fn(ctx, svc) }); err != nil {
		return wrapError(err, "failed to "+operation)
	}
	return nil
}

func (c *Client) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				case 400, 401, 403, 404:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}
	if err != nil {
		logger.WithError(err).Warn("[GmailClient] circuit breaker error for %s: state=%s", operation, c.cb.State().String())
	}
	return err
}

type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func (c *Client) CircuitState() string {
	return c.cb.State().String()
}

// =============================================================================
// Reading
// =============================================================================

func (c *Client) ListMessages(ctx context.Context, accessToken string, q *domain.ListQuery) (*domain.MessageList, error) {
	var resp *gmailapi.ListMessagesResponse
	err := c.call(ctx, "list messages", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		call := svc.Users.Messages.List(me).Context(ctx)
		if q != nil {
			if q.Query != "" {
				call = call.Q(q.Query)
			}
			if len(q.LabelIDs) > 0 {
				call = call.LabelIds(q.LabelIDs...)
			}
			if q.MaxResults > 0 {
				call = call.MaxResults(q.MaxResults)
			}
			if q.PageToken != "" {
				call = call.PageToken(q.PageToken)
			}
		}
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	list := &domain.MessageList{NextPageToken: resp.NextPageToken, Messages: make([]domain.MessageRef, 0, len(resp.Messages))}
	for _, m := range resp.Messages {
		list.Messages = append(list.Messages, domain.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return list, nil
}

func (c *Client) GetMessage(ctx context.Context, accessToken, id string) (*domain.MessageSummary, error) {
	var msg *gmailapi.Message
	err := c.call(ctx, "get message", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		var err error
		msg, err = svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return convertMessage(msg), nil
}

func (c *Client) GetThread(ctx context.Context, accessToken, threadID string) (*domain.Thread, error) {
	var thread *gmailapi.Thread
	err := c.call(ctx, "get thread", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		var err error
		thread, err = svc.Users.Threads.Get(me, threadID).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &domain.Thread{ID: thread.Id, Messages: make([]*domain.MessageSummary, 0, len(thread.Messages))}
	for _, m := range thread.Messages {
		result.Messages = append(result.Messages, convertMessage(m))
	}
	return result, nil
}

func (c *Client) GetAttachment(ctx context.Context, accessToken, messageID, attachmentID string) (*domain.AttachmentData, error) {
	var body *gmailapi.MessagePartBody
	err := c.call(ctx, "get attachment", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		var err error
		body, err = svc.Users.Messages.Attachments.Get(me, messageID, attachmentID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	data, err := decodeBodyData(body.Data)
	if err != nil {
		return nil, out.NewProviderError(providerName, out.ProviderErrServer, "failed to decode attachment", err, false)
	}
	size := body.Size
	if size == 0 {
		size = int64(len(data))
	}
	return &domain.AttachmentData{Data: data, Size: size}, nil
}

// =============================================================================
// Sending
// =============================================================================

func (c *Client) Send(ctx context.Context, accessToken string, msg *domain.OutgoingMessage) (*domain.SendResult, error) {
	raw, err := BuildRawMessage(msg, time.Now())
	if err != nil {
		return nil, out.NewProviderError(providerName, out.ProviderErrInvalidInput, "failed to compose message", err, false)
	}

	var sent *gmailapi.Message
	err = c.call(ctx, "send message", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		var err error
		sent, err = svc.Users.Messages.Send(me, &gmailapi.Message{
			Raw:      base64.URLEncoding.EncodeToString(raw),
			ThreadId: msg.ThreadID,
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &domain.SendResult{ID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// =============================================================================
// Modification
// =============================================================================

func (c *Client) SetStarred(ctx context.Context, accessToken, id string, starred bool) error {
	req := &gmailapi.ModifyMessageRequest{}
	if starred {
		req.AddLabelIds = []string{labelStarred}
	} else {
		req.RemoveLabelIds = []string{labelStarred}
	}
	return c.call(ctx, "modify labels", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		_, err := svc.Users.Messages.Modify(me, id, req).Context(ctx).Do()
		return err
	})
}

func (c *Client) Trash(ctx context.Context, accessToken, id string) error {
	return c.call(ctx, "trash message", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		_, err := svc.Users.Messages.Trash(me, id).Context(ctx).Do()
		return err
	})
}

func (c *Client) Untrash(ctx context.Context, accessToken, id string) error {
	return c.call(ctx, "restore message", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		_, err := svc.Users.Messages.Untrash(me, id).Context(ctx).Do()
		return err
	})
}

func (c *Client) Delete(ctx context.Context, accessToken, id string) error {
	return c.call(ctx, "delete message", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		return svc.Users.Messages.Delete(me, id).Context(ctx).Do()
	})
}

// =============================================================================
// Drafts
// =============================================================================

// ListDrafts returns draft ids, newest first.
func (c *Client) ListDrafts(ctx context.Context, accessToken string, maxResults int64) ([]string, error) {
	var resp *gmailapi.ListDraftsResponse
	err := c.call(ctx, "list drafts", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		call := svc.Users.Drafts.List(me).Context(ctx)
		if maxResults > 0 {
			call = call.MaxResults(maxResults)
		}
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Drafts))
	for _, d := range resp.Drafts {
		ids = append(ids, d.Id)
	}
	return ids, nil
}

func (c *Client) GetDraft(ctx context.Context, accessToken, id string) (*domain.Draft, error) {
	var draft *gmailapi.Draft
	err := c.call(ctx, "get draft", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		var err error
		draft, err = svc.Users.Drafts.Get(me, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &domain.Draft{ID: draft.Id}
	if draft.Message != nil {
		result.Message = convertMessage(draft.Message)
	}
	return result, nil
}

func (c *Client) DeleteDraft(ctx context.Context, accessToken, id string) error {
	return c.call(ctx, "delete draft", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		return svc.Users.Drafts.Delete(me, id).Context(ctx).Do()
	})
}

func (c *Client) SendDraft(ctx context.Context, accessToken, id string) (*domain.SendResult, error) {
	var sent *gmailapi.Message
	err := c.call(ctx, "send draft", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		var err error
		sent, err = svc.Users.Drafts.Send(me, &gmailapi.Draft{Id: id}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &domain.SendResult{ID: sent.Id, ThreadID: sent.ThreadId}, nil
}

// =============================================================================
// Push
// =============================================================================

func (c *Client) Watch(ctx context.Context, accessToken string, req *domain.WatchRequest) (*domain.WatchResult, error) {
	var resp *gmailapi.WatchResponse
	err := c.call(ctx, "setup watch", accessToken, func(ctx context.Context, svc *gmailapi.Service) error {
		var err error
		resp, err = svc.Users.Watch(me, &gmailapi.WatchRequest{
			TopicName:         req.TopicName,
			LabelIds:          req.LabelIDs,
			LabelFilterAction: req.LabelFilterAction,
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &domain.WatchResult{HistoryID: resp.HistoryId, ExpirationMs: resp.Expiration}, nil
}

// =============================================================================
// Errors
// =============================================================================

func wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	var pe *out.ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		var e *out.ProviderError
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			e = out.NewProviderError(providerName, out.ProviderErrTokenExpired, "Token expired", err, false)
		case apiErr.Code == http.StatusForbidden && strings.Contains(apiErr.Message, "Rate Limit"):
			e = out.NewProviderError(providerName, out.ProviderErrRateLimit, "Rate limit exceeded", err, true)
		case apiErr.Code == http.StatusForbidden:
			e = out.NewProviderError(providerName, out.ProviderErrAuth, "Access denied", err, false)
		case apiErr.Code == http.StatusNotFound:
			e = out.NewProviderError(providerName, out.ProviderErrNotFound, "Not found", err, false)
		case apiErr.Code == http.StatusBadRequest:
			e = out.NewProviderError(providerName, out.ProviderErrInvalidInput, apiErr.Message, err, false)
		case apiErr.Code == http.StatusTooManyRequests:
			e = out.NewProviderError(providerName, out.ProviderErrRateLimit, "Too many requests", err, true)
		case apiErr.Code >= 500:
			e = out.NewProviderError(providerName, out.ProviderErrServer, "Server error", err, true)
		default:
			e = out.NewProviderError(providerName, out.ProviderErrServer, defaultMsg, err, false)
		}
		e.StatusCode = apiErr.Code
		return e
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		e := out.NewProviderError(providerName, out.ProviderErrServer, "Gmail temporarily unavailable", err, true)
		e.StatusCode = http.StatusServiceUnavailable
		return e
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		e := out.NewProviderError(providerName, out.ProviderErrTokenExpired, "Token expired", err, false)
		e.StatusCode = http.StatusUnauthorized
		return e
	}

	return out.NewProviderError(providerName, out.ProviderErrNetwork, defaultMsg, err, true)
}

func hasLabel(labels []string, label string) bool {
	return slices.Contains(labels, label)
}
