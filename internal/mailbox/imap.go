package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"
)

const defaultFolder = "INBOX"

type IMAPConfig struct {
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"-"`
	Folder   string `mapstructure:"folder"`
	// Insecure skips TLS and is meant for local test servers.
	Insecure bool `mapstructure:"insecure"`
}

// IMAP reads messages from one mailbox folder.
type IMAP struct {
	cfg    IMAPConfig
	logger *zap.Logger
}

func NewIMAP(cfg IMAPConfig, logger *zap.Logger) (*IMAP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("imap host is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("imap username and password are required")
	}
	if cfg.Folder == "" {
		cfg.Folder = defaultFolder
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IMAP{cfg: cfg, logger: logger.With(zap.String("imap_host", cfg.Host), zap.String("folder", cfg.Folder))}, nil
}

func (m *IMAP) dial() (*client.Client, error) {
	if m.cfg.Insecure {
		return client.Dial(m.cfg.Host)
	}
	return client.DialTLS(m.cfg.Host, &tls.Config{ServerName: hostOnly(m.cfg.Host)})
}

func (m *IMAP) Fetch(ctx context.Context, since time.Time) ([]Email, error) {
	c, err := m.dial()
	if err != nil {
		return nil, fmt.Errorf("dial imap: %w", err)
	}

	// go-imap v1 has no context support; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer func() { _ = c.Logout() }()

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}

	if _, err := c.Select(m.cfg.Folder, true); err != nil {
		return nil, fmt.Errorf("select %s: %w", m.cfg.Folder, err)
	}

	criteria := imap.NewSearchCriteria()
	if !since.IsZero() {
		// SINCE has day granularity; exact filtering happens after parsing.
		criteria.Since = since
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}

	m.logger.Debug("imap search finished", zap.Int("messages", len(uids)), zap.Time("since", since))
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var emails []Email
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}

		email, err := ParseMessage(body)
		if err != nil {
			m.logger.Warn("cannot parse message", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		if email.ID == "" {
			email.ID = fmt.Sprintf("uid-%d", msg.Uid)
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	return After(emails, since), nil
}

// After keeps emails sent strictly after since, ordered by send time.
func After(emails []Email, since time.Time) []Email {
	out := make([]Email, 0, len(emails))
	for _, e := range emails {
		if since.IsZero() || e.SentAt.After(since) {
			out = append(out, e)
		}
	}

	slices.SortStableFunc(out, func(a, b Email) int {
		return a.SentAt.Compare(b.SentAt)
	})
	return out
}

func hostOnly(addr string) string {
	if i := strings.LastIndex(addr, ":"); i != -1 {
		return addr[:i]
	}
	return addr
}
