// Package pipeline classifies incoming e-mails and reconciles lifecycle
// events with the applications they belong to.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/ai"
	"github.com/spigell/jobmail/internal/classifier"
	"github.com/spigell/jobmail/internal/index"
	"github.com/spigell/jobmail/internal/locker"
	"github.com/spigell/jobmail/internal/logger"
	"github.com/spigell/jobmail/internal/mailbox"
	"github.com/spigell/jobmail/internal/matcher"
	"github.com/spigell/jobmail/internal/storage"
)

// DefaultRound names an interview whose round was not stated.
const DefaultRound = "unspecified"

type Classifier interface {
	ClassifyMessage(ctx context.Context, subject, body string, sentAt time.Time) (*classifier.ClassifiedEmail, error)
}

type Matcher interface {
	FindMatch(ctx context.Context, q matcher.Query) (*matcher.Match, error)
}

type Deps struct {
	Classifier Classifier
	Matcher    Matcher
	Embedder   ai.EmbeddingOracle
	Index      index.Index
	Store      storage.Store
	Locker     locker.Locker
	Logger     *zap.Logger
}

type Config struct {
	// Timeout bounds each oracle call. Zero disables it.
	Timeout time.Duration `mapstructure:"timeout"`
}

type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	newRun func() string
}

func New(deps Deps, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Classifier == nil:
		return nil, errors.New("classifier is required")
	case deps.Matcher == nil:
		return nil, errors.New("matcher is required")
	case deps.Embedder == nil:
		return nil, errors.New("embedding oracle is required")
	case deps.Index == nil:
		return nil, errors.New("candidate index is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	}

	if deps.Locker == nil {
		deps.Locker = locker.NewLocal()
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Pipeline{deps: deps, cfg: cfg, logger: log, newRun: uuid.NewString}, nil
}

// Run processes emails for user oldest first. One failing e-mail never stops
// the rest.
func (p *Pipeline) Run(ctx context.Context, user string, emails []mailbox.Email) Summary {
	ordered := slices.Clone(emails)
	slices.SortStableFunc(ordered, func(a, b mailbox.Email) int {
		return a.SentAt.Compare(b.SentAt)
	})

	summary := Summary{RunID: p.newRun(), User: user}
	log := p.logger.With(zap.String(logger.FieldRunID, summary.RunID), zap.String(logger.FieldUser, user))
	log.Info("processing run started", zap.Int("emails", len(ordered)))

	failed := false
	for _, email := range ordered {
		outcome := p.process(ctx, log, user, email)
		summary.add(outcome)

		if outcome.State == StateFailed {
			failed = true
		}
		if !failed && email.SentAt.After(summary.Watermark) {
			summary.Watermark = email.SentAt
		}
	}

	log.Info("processing run finished",
		zap.Int("total", summary.Total),
		zap.Int("created", summary.Created),
		zap.Int("matched", summary.Matched),
		zap.Int("unresolved", summary.Unresolved),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)

	return summary
}

// Process runs one e-mail through classify, match and record while holding
// the user's lock.
func (p *Pipeline) Process(ctx context.Context, user string, email mailbox.Email) Outcome {
	return p.process(ctx, p.logger.With(zap.String(logger.FieldUser, user)), user, email)
}

func (p *Pipeline) process(ctx context.Context, log *zap.Logger, user string, email mailbox.Email) Outcome {
	log = log.With(zap.String(logger.FieldMessageID, email.ID))
	out := Outcome{MessageID: email.ID}

	unlock, err := p.deps.Locker.Lock(ctx, user)
	if err != nil {
		return p.fail(log, out, "lock", err)
	}
	defer unlock()

	if email.ID == "" {
		return p.handle(ctx, log, user, email, out)
	}

	seen, err := p.deps.Store.IsProcessed(ctx, user, email.ID)
	if err != nil {
		return p.fail(log, out, "check processed", err)
	}
	if seen {
		out.State = StateSkipped
		out.Reason = ReasonAlreadyProcessed
		log.Debug("email skipped", zap.String("reason", out.Reason))
		return out
	}

	out = p.handle(ctx, log, user, email, out)
	if out.State == StateFailed {
		return out
	}

	// A lost mark only means the message may be classified again later.
	if err := p.deps.Store.MarkProcessed(ctx, user, email.ID); err != nil {
		log.Warn("message not marked as processed", zap.Error(err))
		if out.Warning == "" {
			out.Warning = err.Error()
		}
	}
	return out
}

func (p *Pipeline) handle(ctx context.Context, log *zap.Logger, user string, email mailbox.Email, out Outcome) Outcome {
	classified, err := p.classify(ctx, email)
	if err != nil {
		return p.fail(log, out, "classify", err)
	}
	out.Stage = classified.Stage

	if classified.Stage == classifier.StageOther {
		out.State = StateSkipped
		out.Reason = "not a job application e-mail"
		log.Debug("email skipped", zap.String("subject", email.Subject))
		return out
	}

	if err := classified.Validate(); err != nil {
		out.State = StateSkipped
		out.Reason = err.Error()
		log.Warn("classification is not actionable", zap.String("stage", string(classified.Stage)), zap.Error(err))
		return out
	}

	fields := classified.Fields
	log = log.With(
		zap.String("stage", string(classified.Stage)),
		zap.String("company", fields.CompanyName),
		zap.String("role", fields.Role),
	)

	switch classified.Stage {
	case classifier.StageApplied:
		return p.applied(ctx, log, user, fields, out)
	default:
		return p.downstream(ctx, log, user, classified.Stage, fields, out)
	}
}

func (p *Pipeline) classify(ctx context.Context, email mailbox.Email) (*classifier.ClassifiedEmail, error) {
	callCtx, cancel := p.callContext(ctx)
	defer cancel()

	classified, err := p.deps.Classifier.ClassifyMessage(callCtx, email.Subject, email.Body, email.SentAt)
	return classified, deadline(callCtx, err)
}

func (p *Pipeline) applied(ctx context.Context, log *zap.Logger, user string, fields *classifier.Fields, out Outcome) Outcome {
	app := &storage.Application{
		User:        user,
		CompanyName: fields.CompanyName,
		Role:        fields.Role,
		AppliedDate: fields.EventDate,
		Location:    fields.Location,
		JobID:       fields.JobID,
	}
	if err := p.deps.Store.CreateApplication(ctx, app); err != nil {
		return p.fail(log, out, "create application", err)
	}

	out.State = StateCreated
	out.ApplicationID = app.ID
	out.RecordID = app.ID

	// The record stays even when indexing fails.
	if err := p.indexApplication(ctx, app); err != nil {
		out.Warning = err.Error()
		log.Warn("application stored but not indexed", zap.Int64("application_id", app.ID), zap.Error(err))
		return out
	}

	log.Info("application created", zap.Int64("application_id", app.ID))
	return out
}

func (p *Pipeline) indexApplication(ctx context.Context, app *storage.Application) error {
	callCtx, cancel := p.callContext(ctx)
	defer cancel()

	vector, err := p.deps.Embedder.Embed(callCtx, matcher.QueryText(app.Role, app.CompanyName))
	if err != nil {
		return ai.EmbeddingFailure("embed application", deadline(callCtx, err))
	}

	meta := index.Metadata{
		Type:          index.TypeApplication,
		ApplicationID: app.ID,
		CompanyName:   app.CompanyName,
		Role:          app.Role,
		AppliedDate:   app.AppliedDate,
	}
	if err := p.deps.Index.Upsert(ctx, app.User, index.VectorID(app.ID), vector, meta); err != nil {
		return ai.IndexFailure("upsert application", err)
	}
	return nil
}

func (p *Pipeline) downstream(ctx context.Context, log *zap.Logger, user string, stage classifier.Stage, fields *classifier.Fields, out Outcome) Outcome {
	round := ""
	if stage == classifier.StageInterview {
		round = fields.Round
		if round == "" {
			round = DefaultRound
		}
	}

	match, err := p.match(ctx, matcher.Query{
		User:        user,
		CompanyName: fields.CompanyName,
		Role:        fields.Role,
		Stage:       string(stage),
		Round:       round,
	})
	if err != nil {
		return p.fail(log, out, "match", err)
	}

	if match == nil {
		out.State = StateUnresolved
		out.Reason = "no matching application"
		log.Info("event unresolved")
		return out
	}

	out.ApplicationID = match.ApplicationID
	out.Score = match.Score
	log = log.With(zap.Int64("application_id", match.ApplicationID), zap.Float64("score", match.Score))

	var recordID int64
	switch stage {
	case classifier.StageRejected:
		recordID, err = p.recordRejection(ctx, user, match.ApplicationID, fields)
	case classifier.StageInterview:
		recordID, err = p.recordInterview(ctx, user, match.ApplicationID, round, fields)
	case classifier.StageOffer:
		recordID, err = p.recordOffer(ctx, user, match.ApplicationID, fields)
	default:
		err = fmt.Errorf("unsupported stage %q", stage)
	}
	if err != nil {
		return p.fail(log, out, "record "+string(stage), err)
	}

	out.State = StateMatched
	out.RecordID = recordID
	log.Info("event matched", zap.Int64("record_id", recordID))
	return out
}

func (p *Pipeline) match(ctx context.Context, q matcher.Query) (*matcher.Match, error) {
	callCtx, cancel := p.callContext(ctx)
	defer cancel()

	match, err := p.deps.Matcher.FindMatch(callCtx, q)
	return match, deadline(callCtx, err)
}

func (p *Pipeline) recordRejection(ctx context.Context, user string, applicationID int64, fields *classifier.Fields) (int64, error) {
	existing, err := p.deps.Store.FindRejection(ctx, user, applicationID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}

	rej := &storage.Rejection{User: user, ApplicationID: applicationID, RejectedDate: fields.EventDate}
	if err := p.deps.Store.CreateRejection(ctx, rej); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			existing, ferr := p.deps.Store.FindRejection(ctx, user, applicationID)
			if ferr != nil {
				return 0, ferr
			}
			return existing.ID, nil
		}
		return 0, err
	}
	return rej.ID, nil
}

func (p *Pipeline) recordInterview(ctx context.Context, user string, applicationID int64, round string, fields *classifier.Fields) (int64, error) {
	upsert := func() (int64, error) {
		existing, err := p.deps.Store.FindInterview(ctx, user, applicationID, round)
		if err != nil {
			return 0, err
		}
		existing.InterviewDate = fields.EventDate
		if fields.InterviewType != "" {
			existing.InterviewType = fields.InterviewType
		}
		if err := p.deps.Store.UpdateInterview(ctx, existing); err != nil {
			return 0, err
		}
		return existing.ID, nil
	}

	id, err := upsert()
	if err == nil || !errors.Is(err, storage.ErrNotFound) {
		return id, err
	}

	iv := &storage.Interview{
		User:          user,
		ApplicationID: applicationID,
		Round:         round,
		InterviewType: fields.InterviewType,
		InterviewDate: fields.EventDate,
	}
	if err := p.deps.Store.CreateInterview(ctx, iv); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return upsert()
		}
		return 0, err
	}
	return iv.ID, nil
}

func (p *Pipeline) recordOffer(ctx context.Context, user string, applicationID int64, fields *classifier.Fields) (int64, error) {
	upsert := func() (int64, error) {
		existing, err := p.deps.Store.FindOffer(ctx, user, applicationID)
		if err != nil {
			return 0, err
		}
		existing.OfferDate = fields.EventDate
		if fields.Location != "" {
			existing.Location = fields.Location
		}
		if err := p.deps.Store.UpdateOffer(ctx, existing); err != nil {
			return 0, err
		}
		return existing.ID, nil
	}

	id, err := upsert()
	if err == nil || !errors.Is(err, storage.ErrNotFound) {
		return id, err
	}

	offer := &storage.Offer{
		User:          user,
		ApplicationID: applicationID,
		OfferDate:     fields.EventDate,
		Location:      fields.Location,
	}
	if err := p.deps.Store.CreateOffer(ctx, offer); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return upsert()
		}
		return 0, err
	}
	return offer.ID, nil
}

func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.Timeout)
}

// deadline keeps an expired call deadline visible to errors.Is even when the
// client library reports it as a plain transport error.
func deadline(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil || errors.Is(err, ctx.Err()) {
		return err
	}
	return fmt.Errorf("%w: %w", err, ctx.Err())
}

func (p *Pipeline) fail(log *zap.Logger, out Outcome, op string, err error) Outcome {
	out.State = StateFailed
	out.Reason = failureReason(op, err)
	log.Error("email processing failed", zap.String("op", op), zap.String("reason", out.Reason), zap.Error(err))
	return out
}

func failureReason(op string, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return strings.TrimSpace(op + ": " + err.Error())
	}
}
