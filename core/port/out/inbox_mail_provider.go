// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"errors"

	"inbox_server/core/domain"
)

// =============================================================================
// Mail Provider Port (Gmail)
// =============================================================================

// MailProvider is the Gmail REST surface the services need. Every call takes the
// bearer token explicitly so the auth retry wrapper can swap it after a refresh.
type MailProvider interface {
	MailMessageReader
	MailMessageSender
	MailMessageModifier
	MailDraftManager
	MailWatcher
}

type MailMessageReader interface {
	ListMessages(ctx context.Context, accessToken string, q *domain.ListQuery) (*domain.MessageList, error)
	GetMessage(ctx context.Context, accessToken, id string) (*domain.MessageSummary, error)
	GetThread(ctx context.Context, accessToken, threadID string) (*domain.Thread, error)
	GetAttachment(ctx context.Context, accessToken, messageID, attachmentID string) (*domain.AttachmentData, error)
}

type MailMessageSender interface {
	Send(ctx context.Context, accessToken string, msg *domain.OutgoingMessage) (*domain.SendResult, error)
}

type MailMessageModifier interface {
	SetStarred(ctx context.Context, accessToken, id string, starred bool) error
	Trash(ctx context.Context, accessToken, id string) error
	Untrash(ctx context.Context, accessToken, id string) error
	Delete(ctx context.Context, accessToken, id string) error
}

type MailDraftManager interface {
	ListDrafts(ctx context.Context, accessToken string, maxResults int64) ([]string, error)
	GetDraft(ctx context.Context, accessToken, id string) (*domain.Draft, error)
	DeleteDraft(ctx context.Context, accessToken, id string) error
	SendDraft(ctx context.Context, accessToken, id string) (*domain.SendResult, error)
}

type MailWatcher interface {
	Watch(ctx context.Context, accessToken string, req *domain.WatchRequest) (*domain.WatchResult, error)
}

// =============================================================================
// Provider Error
// =============================================================================

// ProviderErrorCode represents error codes.
type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrTokenExpired ProviderErrorCode = "token_expired"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrNetwork      ProviderErrorCode = "network_error"
	ProviderErrServer       ProviderErrorCode = "server_error"
	ProviderErrInvalidInput ProviderErrorCode = "invalid_input"
)

// ProviderError represents a provider error.
type ProviderError struct {
	Provider   string
	Code       ProviderErrorCode
	Message    string
	StatusCode int
	Err        error
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider string, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// ProviderErrorCodeOf returns the code of the first ProviderError in err's chain, or "".
func ProviderErrorCodeOf(err error) ProviderErrorCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsTokenExpired reports whether the provider rejected the bearer token (HTTP 401).
func IsTokenExpired(err error) bool {
	return ProviderErrorCodeOf(err) == ProviderErrTokenExpired
}
