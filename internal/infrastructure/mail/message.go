package mail

import (
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"InboxRPA/internal/domain"
)

const maxPartBytes = 1 << 20

// ParseMessage reads an RFC 5322 message and keeps its first text and HTML parts.
func ParseMessage(r io.Reader) (domain.Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return domain.Message{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	var msg domain.Message
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].String()
	} else {
		msg.Sender = mr.Header.Get("From")
	}
	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := mr.Header.Date(); err == nil {
		msg.Date = date
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return msg, fmt.Errorf("read part: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := header.ContentType()

		body, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
		if err != nil {
			return msg, fmt.Errorf("read body: %w", err)
		}

		switch {
		case strings.EqualFold(contentType, "text/html") && msg.HTML == "":
			msg.HTML = string(body)
		case (contentType == "" || strings.EqualFold(contentType, "text/plain")) && msg.Text == "":
			msg.Text = string(body)
		}
	}

	return msg, nil
}
