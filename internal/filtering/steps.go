package filtering

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/mailbox"
)

type emptyFilter struct {
	toggle
}

// NewEmpty creates a filter that removes e-mails without subject and body.
func NewEmpty() Filter {
	return &emptyFilter{}
}

func (f *emptyFilter) Name() string { return "empty" }

func (f *emptyFilter) Validate(*Config) error { return nil }

func (f *emptyFilter) Apply(_ context.Context, deps Deps, emails []mailbox.Email) ([]mailbox.Email, Step, error) {
	left, removed := keep(emails, func(e mailbox.Email) bool {
		return strings.TrimSpace(e.Body) == "" && strings.TrimSpace(e.Subject) == ""
	})
	if len(removed) > 0 {
		deps.Logger.Info("excluding empty e-mails", zap.Strings("excluded_emails", removed))
	}
	return left, Step{Initial: len(emails), Dropped: len(removed), Left: len(left)}, nil
}

func (f *emptyFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}

type duplicatesFilter struct {
	toggle
}

// NewDuplicates creates a filter that keeps only the first e-mail per message ID.
func NewDuplicates() Filter {
	return &duplicatesFilter{}
}

func (f *duplicatesFilter) Name() string { return "duplicates" }

func (f *duplicatesFilter) Validate(*Config) error { return nil }

func (f *duplicatesFilter) Apply(_ context.Context, deps Deps, emails []mailbox.Email) ([]mailbox.Email, Step, error) {
	seen := make(map[string]struct{}, len(emails))
	left, removed := keep(emails, func(e mailbox.Email) bool {
		if e.ID == "" {
			return false
		}
		if _, ok := seen[e.ID]; ok {
			return true
		}
		seen[e.ID] = struct{}{}
		return false
	})
	if len(removed) > 0 {
		deps.Logger.Info("excluding duplicated e-mails", zap.Strings("excluded_emails", removed))
	}
	return left, Step{Initial: len(emails), Dropped: len(removed), Left: len(left)}, nil
}

func (f *duplicatesFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}

type sendersFilter struct {
	toggle
	senders []string
}

// NewSenders creates a filter that removes e-mails from configured addresses or domains.
// An entry starting with "@" matches the whole domain.
func NewSenders() Filter {
	return &sendersFilter{}
}

func (f *sendersFilter) Name() string { return "senders" }

func (f *sendersFilter) Validate(cfg *Config) error {
	f.senders = nil
	if cfg == nil {
		return nil
	}
	for _, sender := range cfg.ExcludeSenders {
		sender = strings.ToLower(strings.TrimSpace(sender))
		if sender == "" || sender == "@" {
			return fmt.Errorf("invalid sender %q", sender)
		}
		f.senders = append(f.senders, sender)
	}
	return nil
}

func (f *sendersFilter) Apply(_ context.Context, deps Deps, emails []mailbox.Email) ([]mailbox.Email, Step, error) {
	if len(f.senders) == 0 {
		return emails, Step{Initial: len(emails), Dropped: 0, Left: len(emails)}, nil
	}

	left, removed := keep(emails, func(e mailbox.Email) bool {
		return f.excluded(senderAddress(e.From))
	})
	if len(removed) > 0 {
		deps.Logger.Info("excluding e-mails by sender",
			zap.Strings("excluded_senders", f.senders),
			zap.Strings("excluded_emails", removed),
			zap.Int("emails_left", len(left)),
		)
	}
	return left, Step{Initial: len(emails), Dropped: len(removed), Left: len(left)}, nil
}

func (f *sendersFilter) excluded(address string) bool {
	if address == "" {
		return false
	}
	for _, sender := range f.senders {
		if strings.HasPrefix(sender, "@") {
			if strings.HasSuffix(address, sender) {
				return true
			}
			continue
		}
		if address == sender {
			return true
		}
	}
	return false
}

func (f *sendersFilter) Status() Status {
	details := map[string]string{}
	if len(f.senders) > 0 {
		details["senders"] = strings.Join(f.senders, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

// senderAddress extracts the lower-cased address from a From header value.
func senderAddress(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(from)
}

type excludeFileFilter struct {
	toggle
	path string
}

// NewExcludeFile creates a filter that removes e-mails whose message IDs are
// listed in a file, one per line. Lines starting with # are ignored.
func NewExcludeFile() Filter {
	return &excludeFileFilter{}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Validate(cfg *Config) error {
	f.path = ""
	if cfg != nil {
		f.path = strings.TrimSpace(cfg.ExcludeFile)
	}
	return nil
}

func (f *excludeFileFilter) Apply(_ context.Context, deps Deps, emails []mailbox.Email) ([]mailbox.Email, Step, error) {
	if f.path == "" {
		return emails, Step{Initial: len(emails), Dropped: 0, Left: len(emails)}, nil
	}

	ids, err := readExcluded(f.path)
	if err != nil {
		return emails, Step{}, fmt.Errorf("getting excluded e-mails from file: %w", err)
	}

	left, removed := keep(emails, func(e mailbox.Email) bool {
		_, ok := ids[e.ID]
		return ok
	})
	if len(removed) > 0 {
		deps.Logger.Info("excluding e-mails based on exclude file",
			zap.String("path", f.path),
			zap.Strings("excluded_emails", removed),
			zap.Int("emails_left", len(left)),
		)
	}
	return left, Step{Initial: len(emails), Dropped: len(removed), Left: len(left)}, nil
}

func (f *excludeFileFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

func readExcluded(path string) (map[string]struct{}, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	ids := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		ids[text] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s after line %s: %w", path, strconv.Itoa(line), err)
	}
	return ids, nil
}
