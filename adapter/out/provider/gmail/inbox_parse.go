package gmail

import (
	"encoding/base64"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"

	"inbox_server/core/domain"
)

const maxPartDepth = 10

func convertMessage(msg *gmailapi.Message) *domain.MessageSummary {
	s := &domain.MessageSummary{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
		Starred:  hasLabel(msg.LabelIds, labelStarred),
		Unread:   hasLabel(msg.LabelIds, labelUnread),
		From:     "Unknown",
		Subject:  "No Subject",
		Date:     "Unknown",
	}
	if msg.Payload == nil {
		s.Body = msg.Snippet
		return s
	}

	headers := msg.Payload.Headers
	if v := header(headers, "From"); v != "" {
		s.From = v
	}
	if v := header(headers, "Subject"); v != "" {
		s.Subject = v
	}
	if v := header(headers, "Date"); v != "" {
		s.Date = v
	}
	s.To = header(headers, "To")
	s.MessageID = header(headers, "Message-ID")
	s.References = header(headers, "References")

	var html, text string
	extractBody(msg.Payload, &html, &text, 0)
	switch {
	case html != "":
		s.Body = html
	case text != "":
		s.Body = text
	default:
		s.Body = msg.Snippet
	}

	s.Attachments = extractAttachments(msg.Payload, 0)
	return s
}

// extractBody keeps the first text/html and text/plain parts found depth-first.
func extractBody(part *gmailapi.MessagePart, html, text *string, depth int) {
	if part == nil || depth > maxPartDepth {
		return
	}
	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		switch part.MimeType {
		case "text/html":
			if *html == "" {
				if data, err := decodeBodyData(part.Body.Data); err == nil {
					*html = string(data)
				}
			}
		case "text/plain":
			if *text == "" {
				if data, err := decodeBodyData(part.Body.Data); err == nil {
					*text = string(data)
				}
			}
		}
	}
	for _, p := range part.Parts {
		extractBody(p, html, text, depth+1)
	}
}

func extractAttachments(part *gmailapi.MessagePart, depth int) []domain.Attachment {
	if part == nil || depth > maxPartDepth {
		return nil
	}
	var attachments []domain.Attachment
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		attachments = append(attachments, domain.Attachment{
			ID:       part.Body.AttachmentId,
			Filename: part.Filename,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	}
	for _, p := range part.Parts {
		attachments = append(attachments, extractAttachments(p, depth+1)...)
	}
	return attachments
}

func header(headers []*gmailapi.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// decodeBodyData accepts Gmail's URL-safe base64 with or without padding.
func decodeBodyData(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
