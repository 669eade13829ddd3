package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/filtering"
	"github.com/spigell/jobmail/internal/logger"
	"github.com/spigell/jobmail/internal/mailbox"
	"github.com/spigell/jobmail/internal/storage"
)

// SourceFactory returns the mailbox that belongs to user.
type SourceFactory func(user string) (mailbox.Source, error)

// Batch is the mail fetched for one user in one sync.
type Batch struct {
	User   string
	Emails []mailbox.Email
	// Newest is the latest sent time fetched, including mail the filters dropped.
	Newest time.Time
}

// Syncer pulls new mail for a user from the stored cursor and advances the
// cursor after a run.
type Syncer struct {
	pipeline *Pipeline
	store    storage.Store
	sources  SourceFactory
	filters  []filtering.Filter
	logger   *zap.Logger
}

func NewSyncer(p *Pipeline, store storage.Store, sources SourceFactory, log *zap.Logger) (*Syncer, error) {
	if p == nil || store == nil || sources == nil {
		return nil, errors.New("pipeline, store and source factory are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{pipeline: p, store: store, sources: sources, logger: log}, nil
}

// UseFilters sets the validated pre-filter chain applied to fetched mail.
func (s *Syncer) UseFilters(steps []filtering.Filter) {
	s.filters = steps
}

// Pending fetches e-mails newer than the user's cursor that pass the filters.
func (s *Syncer) Pending(ctx context.Context, user string) (Batch, error) {
	batch := Batch{User: user}

	since, err := s.store.Cursor(ctx, user)
	if err != nil {
		return batch, fmt.Errorf("read cursor: %w", err)
	}

	source, err := s.sources(user)
	if err != nil {
		return batch, fmt.Errorf("open mailbox for %s: %w", user, err)
	}

	emails, err := source.Fetch(ctx, since)
	if err != nil {
		return batch, fmt.Errorf("fetch mail for %s: %w", user, err)
	}

	for _, email := range emails {
		if email.SentAt.After(batch.Newest) {
			batch.Newest = email.SentAt
		}
	}

	log := s.logger.With(zap.String(logger.FieldUser, user))
	log.Info("fetched mail", zap.Time("since", since), zap.Int("emails", len(emails)))

	if len(s.filters) > 0 {
		emails, err = filtering.Run(ctx, filtering.Deps{Logger: log}, s.filters, emails)
		if err != nil {
			return batch, fmt.Errorf("filter mail for %s: %w", user, err)
		}
	}

	batch.Emails = emails
	return batch, nil
}

// Process runs the batch and persists the next cursor. Without failures the
// cursor moves past everything fetched, otherwise it stops at the run watermark.
func (s *Syncer) Process(ctx context.Context, batch Batch) (Summary, error) {
	summary := s.pipeline.Run(ctx, batch.User, batch.Emails)

	next := summary.Watermark
	if summary.Failed == 0 && batch.Newest.After(next) {
		next = batch.Newest
	}
	if next.IsZero() {
		return summary, nil
	}

	if err := s.store.SetCursor(ctx, batch.User, next); err != nil {
		return summary, fmt.Errorf("save cursor: %w", err)
	}
	return summary, nil
}

// Sync is Pending followed by Process.
func (s *Syncer) Sync(ctx context.Context, user string) (Summary, error) {
	batch, err := s.Pending(ctx, user)
	if err != nil {
		return Summary{User: user}, err
	}
	return s.Process(ctx, batch)
}
