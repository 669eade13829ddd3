// Package mailbox fetches job search mail and turns raw RFC 5322 messages
// into plain text e-mails.
package mailbox

import (
	"context"
	"time"
)

type Email struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// Source lists messages sent strictly after since, oldest first.
type Source interface {
	Fetch(ctx context.Context, since time.Time) ([]Email, error)
}
