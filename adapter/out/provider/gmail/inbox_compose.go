package gmail

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"inbox_server/core/domain"
)

// BuildRawMessage renders msg as an RFC 5322 message ready for users.messages.send.
func BuildRawMessage(msg *domain.OutgoingMessage, now time.Time) ([]byte, error) {
	if msg == nil || len(msg.To) == 0 {
		return nil, errors.New("message has no recipients")
	}

	var h mail.Header
	h.SetDate(now)
	h.SetSubject(msg.Subject)
	if msg.From != "" {
		from, err := parseAddresses(msg.From)
		if err != nil {
			return nil, err
		}
		h.SetAddressList("From", from)
	}
	to, err := parseAddresses(msg.To...)
	if err != nil {
		return nil, err
	}
	h.SetAddressList("To", to)
	if msg.InReplyTo != "" {
		h.Set("In-Reply-To", msg.InReplyTo)
	}
	if msg.References != "" {
		h.Set("References", msg.References)
	}

	bodyType := "text/plain"
	if msg.IsHTML {
		bodyType = "text/html"
	}
	charset := map[string]string{"charset": "utf-8"}

	var buf bytes.Buffer
	if len(msg.Attachments) == 0 {
		h.SetContentType(bodyType, charset)
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, msg.Body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	var bh mail.InlineHeader
	bh.SetContentType(bodyType, charset)
	bh.Set("Content-Transfer-Encoding", "quoted-printable")
	bw, err := mw.CreateSingleInline(bh)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(bw, msg.Body); err != nil {
		return nil, err
	}
	if err := bw.Close(); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(attachmentType(att), nil)
		ah.Set("Content-Transfer-Encoding", "base64")
		ah.SetFilename(att.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := aw.Write(att.Data); err != nil {
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseAddresses(values ...string) ([]*mail.Address, error) {
	var addrs []*mail.Address
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		list, err := mail.ParseAddressList(v)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, list...)
	}
	if len(addrs) == 0 {
		return nil, errors.New("no valid addresses")
	}
	return addrs, nil
}

func attachmentType(att domain.OutgoingAttachment) string {
	if att.MimeType != "" {
		return att.MimeType
	}
	if i := strings.LastIndex(att.Filename, "."); i >= 0 {
		if t := mime.TypeByExtension(att.Filename[i:]); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}
