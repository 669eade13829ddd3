package mailbox

import (
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"regexp"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	breakRe  = regexp.MustCompile(`(?i)<(br|/p|/div|/tr|/li|/h[1-6])[^>]*>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// ParseMessage reads one message. The body is the first text/plain part, or
// the first text/html part reduced to text when no plain part exists.
func ParseMessage(r io.Reader) (Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return Email{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	var email Email

	if subject, err := mr.Header.Subject(); err == nil {
		email.Subject = strings.TrimSpace(subject)
	} else {
		email.Subject = strings.TrimSpace(mr.Header.Get("Subject"))
	}

	if id, err := mr.Header.MessageID(); err == nil {
		email.ID = id
	}

	if date, err := mr.Header.Date(); err == nil {
		email.SentAt = date
	}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		email.From = from[0].Address
	}

	var plain, htmlBody string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if plain != "" || htmlBody != "" {
				break
			}
			return Email{}, fmt.Errorf("read message part: %w", err)
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, err := inline.ContentType()
		if err != nil {
			contentType, _, _ = mime.ParseMediaType(inline.Get("Content-Type"))
		}
		if contentType == "" {
			contentType = "text/plain"
		}

		switch contentType {
		case "text/plain":
			if plain != "" {
				continue
			}
			b, err := io.ReadAll(part.Body)
			if err != nil {
				return Email{}, fmt.Errorf("read text part: %w", err)
			}
			plain = string(b)
		case "text/html":
			if htmlBody != "" {
				continue
			}
			b, err := io.ReadAll(part.Body)
			if err != nil {
				return Email{}, fmt.Errorf("read html part: %w", err)
			}
			htmlBody = string(b)
		}
	}

	switch {
	case strings.TrimSpace(plain) != "":
		email.Body = strings.TrimSpace(plain)
	case htmlBody != "":
		email.Body = HTMLToText(htmlBody)
	}

	return email, nil
}

// HTMLToText drops markup and decodes entities, keeping line breaks at block
// boundaries.
func HTMLToText(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = breakRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	s = strings.Join(lines, "\n")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
