package domain

// MessageSummary is the per-message view returned to the client and logged by
// the webhook. It is produced fresh on every fetch.
type MessageSummary struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"threadId,omitempty"`
	From        string       `json:"from"`
	To          string       `json:"to,omitempty"`
	Subject     string       `json:"subject"`
	Date        string       `json:"date"`
	Snippet     string       `json:"snippet"`
	Body        string       `json:"body,omitempty"`
	Starred     bool         `json:"starred"`
	Unread      bool         `json:"unread"`
	Labels      []string     `json:"labels,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	MessageID   string       `json:"messageId,omitempty"` // RFC 5322 Message-ID header
	References  string       `json:"references,omitempty"`
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// MessageRef is an id pair from a list call.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type ListQuery struct {
	Query      string
	LabelIDs   []string
	MaxResults int64
	PageToken  string
}

type MessageList struct {
	Messages      []MessageRef
	NextPageToken string
}

// Thread is a conversation with its messages in Gmail order.
type Thread struct {
	ID       string            `json:"id"`
	Messages []*MessageSummary `json:"messages"`
}

// OutgoingMessage is a message to compose and send.
type OutgoingMessage struct {
	From        string
	To          []string
	Subject     string
	Body        string
	IsHTML      bool
	ThreadID    string
	InReplyTo   string
	References  string
	Attachments []OutgoingAttachment
}

type OutgoingAttachment struct {
	Filename string
	MimeType string
	Data     []byte
}

type SendResult struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// Draft is a saved, unsent message. Message is nil when Gmail returns an
// empty draft.
type Draft struct {
	ID      string          `json:"id"`
	Message *MessageSummary `json:"message"`
}

// ReplyRequest answers an existing message in its thread.
type ReplyRequest struct {
	To                string
	Subject           string
	Content           string
	OriginalMessageID string
}

// AttachmentData is a downloaded attachment body.
type AttachmentData struct {
	Data []byte
	Size int64
}

// DeleteAction selects what /api/emails/delete does.
type DeleteAction string

const (
	DeleteActionTrash     DeleteAction = "trash"
	DeleteActionPermanent DeleteAction = "permanent"
	DeleteActionRestore   DeleteAction = "restore"
)

func (a DeleteAction) Valid() bool {
	switch a {
	case DeleteActionTrash, DeleteActionPermanent, DeleteActionRestore:
		return true
	}
	return false
}
