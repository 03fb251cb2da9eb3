package domain

import (
	"bytes"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// PushEnvelope is the Pub/Sub push-delivery wrapper posted to the webhook.
type PushEnvelope struct {
	Message      *PushMessage `json:"message"`
	Subscription string       `json:"subscription,omitempty"`
}

type PushMessage struct {
	Data        string            `json:"data"`
	MessageID   string            `json:"messageId,omitempty"`
	PublishTime string            `json:"publishTime,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// GmailNotification is the decoded payload Gmail publishes on mailbox changes.
type GmailNotification struct {
	EmailAddress string    `json:"emailAddress"`
	HistoryID    HistoryID `json:"historyId"`
	Expiration   string    `json:"expiration,omitempty"`
}

// HistoryID is Gmail's change cursor. Gmail sends it as a JSON number,
// other publishers quote it.
type HistoryID uint64

func (h *HistoryID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*h = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*h = 0
			return nil
		}
		data = []byte(s)
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return err
	}
	*h = HistoryID(v)
	return nil
}

func (h HistoryID) String() string {
	return strconv.FormatUint(uint64(h), 10)
}

// WatchRequest registers a push-notification subscription for a mailbox.
type WatchRequest struct {
	TopicName         string
	LabelIDs          []string
	LabelFilterAction string
}

// WatchResult is what Gmail returns for a successful watch call. Both fields
// are rendered as decimal strings, the way Gmail's JSON API sends them.
type WatchResult struct {
	HistoryID    uint64 `json:"historyId,string"`
	ExpirationMs int64  `json:"expiration,string"`
}

// ExpiresAt converts the epoch-millisecond expiration.
func (w *WatchResult) ExpiresAt() time.Time {
	return time.UnixMilli(w.ExpirationMs).UTC()
}
