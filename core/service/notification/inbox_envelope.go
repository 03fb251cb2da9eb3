package notification

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/goccy/go-json"

	"inbox_server/core/domain"
)

// ErrInvalidEnvelope rejects a push body whose message.data is missing, not
// base64, or not a JSON value. Such bodies are never processed.
var ErrInvalidEnvelope = errors.New("invalid message format")

// DecodeEnvelope parses a Pub/Sub push body and its embedded Gmail payload.
// A payload that is valid JSON but not an object yields an empty notification.
func DecodeEnvelope(body []byte) (*domain.PushEnvelope, *domain.GmailNotification, error) {
	var env domain.PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, ErrInvalidEnvelope
	}
	if env.Message == nil || env.Message.Data == "" {
		return nil, nil, ErrInvalidEnvelope
	}

	data, err := decodeBase64(env.Message.Data)
	if err != nil {
		return nil, nil, ErrInvalidEnvelope
	}

	data = bytes.TrimSpace(data)
	if !json.Valid(data) || bytes.Equal(data, []byte("null")) {
		return nil, nil, ErrInvalidEnvelope
	}

	n := &domain.GmailNotification{}
	if data[0] != '{' {
		return &env, n, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, nil, ErrInvalidEnvelope
	}

	// Field-level type mismatches leave the field empty rather than rejecting the envelope.
	if raw, ok := fields["emailAddress"]; ok {
		_ = json.Unmarshal(raw, &n.EmailAddress)
		n.EmailAddress = strings.TrimSpace(n.EmailAddress)
	}
	if raw, ok := fields["historyId"]; ok {
		_ = n.HistoryID.UnmarshalJSON(raw)
	}
	if raw, ok := fields["expiration"]; ok {
		n.Expiration = strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	}
	return &env, n, nil
}

// decodeBase64 accepts padded and unpadded standard base64.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
