package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobmail/internal/ai"
	"github.com/spigell/jobmail/internal/classifier"
	"github.com/spigell/jobmail/internal/index"
	"github.com/spigell/jobmail/internal/locker"
	"github.com/spigell/jobmail/internal/mailbox"
	"github.com/spigell/jobmail/internal/matcher"
	"github.com/spigell/jobmail/internal/storage"
)

// scriptedOracle answers by the subject line found in the request content.
type scriptedOracle struct {
	mu        sync.Mutex
	responses map[string]string
	block     bool
}

func (s *scriptedOracle) Classify(ctx context.Context, req ai.ClassifyRequest) (string, error) {
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for subject, resp := range s.responses {
		if strings.Contains(req.Content, "Subject: "+subject+"\n") {
			return resp, nil
		}
	}
	return "", errors.New("no scripted response")
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

type failingIndex struct {
	index.Index
}

func (failingIndex) Upsert(context.Context, string, string, []float32, index.Metadata) error {
	return errors.New("index unavailable")
}

type harness struct {
	pipeline *Pipeline
	store    *storage.Memory
	index    index.Index
	embedder *fakeEmbedder
	oracle   *scriptedOracle
}

type harnessOption func(*Deps, *Config)

func newHarness(t *testing.T, responses map[string]string, opts ...harnessOption) *harness {
	t.Helper()

	oracle := &scriptedOracle{responses: responses}
	cls, err := classifier.New(oracle, classifier.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}

	emb := &fakeEmbedder{}
	store := storage.NewMemory()

	deps := Deps{
		Classifier: cls,
		Embedder:   emb,
		Index:      index.NewMemory(),
		Store:      store,
		Locker:     locker.NewLocal(),
		Logger:     zap.NewNop(),
	}
	cfg := Config{Timeout: time.Second}

	for _, opt := range opts {
		opt(&deps, &cfg)
	}

	m, err := matcher.New(deps.Embedder, deps.Index, matcher.DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	deps.Matcher = m

	p, err := New(deps, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	return &harness{pipeline: p, store: store, index: deps.Index, embedder: emb, oracle: oracle}
}

var day = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func email(id, subject string, offset time.Duration) mailbox.Email {
	return mailbox.Email{ID: id, Subject: subject, Body: "body of " + id, SentAt: day.Add(offset)}
}

const (
	appliedAcme   = `{"classification":"applied","extracted_info":{"company_name":"Acme Corp","role":"Backend Engineer","event_date":"2024-02-01","status":"applied"}}`
	rejectedAcme  = `{"classification":"rejected","company_name":"Acme","role":"Backend Eng"}`
	interviewAcme = `{"classification":"interview","extracted_info":{"company_name":"Acme Corp","role":"Backend Engineer","round":"round 1","interview_type":"video","event_date":"2024-02-12"}}`
	interviewInit = `{"classification":"interview","extracted_info":{"company_name":"Initech","role":"Data Analyst","round":"OA"}}`
)

func TestScenarioAppliedThenRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{
		"Thanks for applying": appliedAcme,
		"Your application":    rejectedAcme,
	})

	applied := h.pipeline.Process(ctx, "alice", email("m1", "Thanks for applying", 0))
	if applied.State != StateCreated || applied.ApplicationID != 1 || applied.Warning != "" {
		t.Fatalf("unexpected applied outcome %+v", applied)
	}

	app, err := h.store.GetApplication(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("application not stored: %v", err)
	}
	if !app.AppliedDate.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected applied date %v", app.AppliedDate)
	}

	hits, err := h.index.Query(ctx, "alice", []float32{1, 0, 0}, index.Filter{Type: index.TypeApplication}, 3)
	if err != nil || len(hits) != 1 || hits[0].ID != "application_1" {
		t.Fatalf("expected vector application_1, got %+v (%v)", hits, err)
	}

	rejected := h.pipeline.Process(ctx, "alice", email("m2", "Your application", 24*time.Hour))
	if rejected.State != StateMatched || rejected.ApplicationID != 1 {
		t.Fatalf("unexpected rejected outcome %+v", rejected)
	}

	rej, err := h.store.FindRejection(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("rejection not stored: %v", err)
	}
	if rej.ID != rejected.RecordID {
		t.Fatalf("outcome record %d does not match rejection %d", rejected.RecordID, rej.ID)
	}

	again := h.pipeline.Process(ctx, "alice", email("m3", "Your application", 48*time.Hour))
	if again.State != StateMatched || again.RecordID != rej.ID {
		t.Fatalf("expected repeated rejection to reuse record, got %+v", again)
	}
}

func TestScenarioInterviewWithoutApplicationIsUnresolved(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{"Online assessment": interviewInit})

	out := h.pipeline.Process(ctx, "alice", email("m1", "Online assessment", 0))
	if out.State != StateUnresolved || out.ApplicationID != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	if _, err := h.store.FindInterview(ctx, "alice", 1, "OA"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no interview record, got %v", err)
	}
}

func TestRepeatedInterviewUpdatesRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{
		"Thanks for applying": appliedAcme,
		"Interview invite":    interviewAcme,
	})

	h.pipeline.Process(ctx, "alice", email("m1", "Thanks for applying", 0))
	first := h.pipeline.Process(ctx, "alice", email("m2", "Interview invite", time.Hour))
	second := h.pipeline.Process(ctx, "alice", email("m3", "Interview invite", 2*time.Hour))

	if first.State != StateMatched || second.State != StateMatched {
		t.Fatalf("unexpected outcomes %+v / %+v", first, second)
	}
	if first.RecordID != second.RecordID {
		t.Fatalf("expected same interview record, got %d and %d", first.RecordID, second.RecordID)
	}

	iv, err := h.store.FindInterview(ctx, "alice", 1, "round 1")
	if err != nil {
		t.Fatalf("interview not stored: %v", err)
	}
	if iv.InterviewType != "video" || !iv.InterviewDate.Equal(time.Date(2024, 2, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected interview %+v", iv)
	}
}

func TestOfferIsSinglePerApplication(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{
		"Thanks for applying": appliedAcme,
		"Offer letter":        `{"classification":"offer","company_name":"Acme Corp","role":"Backend Engineer","location":"Berlin"}`,
	})

	h.pipeline.Process(ctx, "alice", email("m1", "Thanks for applying", 0))
	first := h.pipeline.Process(ctx, "alice", email("m2", "Offer letter", time.Hour))
	second := h.pipeline.Process(ctx, "alice", email("m3", "Offer letter", 2*time.Hour))

	if first.State != StateMatched || first.RecordID != second.RecordID {
		t.Fatalf("expected one offer record, got %+v / %+v", first, second)
	}

	offer, err := h.store.FindOffer(ctx, "alice", 1)
	if err != nil || offer.Location != "Berlin" {
		t.Fatalf("unexpected offer %+v (%v)", offer, err)
	}
}

func TestInterviewRoundDefaults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{
		"Thanks for applying": appliedAcme,
		"Let's talk":          `{"classification":"interview","company_name":"Acme Corp","role":"Backend Engineer"}`,
	})

	h.pipeline.Process(ctx, "alice", email("m1", "Thanks for applying", 0))
	out := h.pipeline.Process(ctx, "alice", email("m2", "Let's talk", time.Hour))
	if out.State != StateMatched {
		t.Fatalf("unexpected outcome %+v", out)
	}

	if _, err := h.store.FindInterview(ctx, "alice", 1, DefaultRound); err != nil {
		t.Fatalf("expected interview under default round: %v", err)
	}
}

func TestSkippedOutcomes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{
		"Weekly digest":   `{"classification":"other"}`,
		"Application ack": `{"classification":"applied","company_name":"Acme"}`,
	})

	other := h.pipeline.Process(ctx, "alice", email("m1", "Weekly digest", 0))
	if other.State != StateSkipped || other.Stage != classifier.StageOther {
		t.Fatalf("unexpected outcome %+v", other)
	}

	malformed := h.pipeline.Process(ctx, "alice", email("m2", "Application ack", 0))
	if malformed.State != StateSkipped || !strings.Contains(malformed.Reason, "role") {
		t.Fatalf("unexpected outcome %+v", malformed)
	}

	if apps, _ := h.store.ListApplications(ctx, "alice"); len(apps) != 0 {
		t.Fatalf("expected no applications, got %d", len(apps))
	}
}

func TestProcessSkipsKnownMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{"Thanks for applying": appliedAcme})

	first := h.pipeline.Process(ctx, "alice", email("m1", "Thanks for applying", 0))
	if first.State != StateCreated {
		t.Fatalf("unexpected first outcome %+v", first)
	}

	again := h.pipeline.Process(ctx, "alice", email("m1", "Thanks for applying", 0))
	if again.State != StateSkipped || again.Reason != ReasonAlreadyProcessed {
		t.Fatalf("expected known message to be skipped, got %+v", again)
	}

	other := h.pipeline.Process(ctx, "bob", email("m1", "Thanks for applying", 0))
	if other.State != StateCreated {
		t.Fatalf("expected the ledger to be per user, got %+v", other)
	}

	noID := email("", "Thanks for applying", 0)
	h.pipeline.Process(ctx, "alice", noID)
	if out := h.pipeline.Process(ctx, "alice", noID); out.State != StateCreated {
		t.Fatalf("expected mail without an id to bypass the ledger, got %+v", out)
	}

	if apps, _ := h.store.ListApplications(ctx, "alice"); len(apps) != 3 {
		t.Fatalf("expected three applications for alice, got %d", len(apps))
	}
}

func TestFailedMessageIsNotMarked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	if out := h.pipeline.Process(ctx, "alice", email("m1", "Unknown", 0)); out.State != StateFailed {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if seen, _ := h.store.IsProcessed(ctx, "alice", "m1"); seen {
		t.Fatal("failed message must stay eligible for retry")
	}
}

func TestAppliedSurvivesIndexFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{"Thanks for applying": appliedAcme}, func(d *Deps, _ *Config) {
		d.Index = failingIndex{Index: index.NewMemory()}
	})

	out := h.pipeline.Process(ctx, "alice", email("m1", "Thanks for applying", 0))
	if out.State != StateCreated || out.Warning == "" {
		t.Fatalf("expected created with warning, got %+v", out)
	}
	if _, err := h.store.GetApplication(ctx, "alice", out.ApplicationID); err != nil {
		t.Fatalf("application must persist: %v", err)
	}
}

func TestAppliedSurvivesEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{"Thanks for applying": appliedAcme})
	h.embedder.err = errors.New("quota")

	out := h.pipeline.Process(ctx, "alice", email("m1", "Thanks for applying", 0))
	if out.State != StateCreated || !strings.Contains(out.Warning, "embedding") {
		t.Fatalf("expected created with embedding warning, got %+v", out)
	}
}

func TestDownstreamEmbeddingFailureFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string]string{"Your application": rejectedAcme})
	h.embedder.err = errors.New("quota")

	out := h.pipeline.Process(ctx, "alice", email("m1", "Your application", 0))
	if out.State != StateFailed || out.Stage != classifier.StageRejected {
		t.Fatalf("expected failed outcome, got %+v", out)
	}
}

func TestOracleTimeout(t *testing.T) {
	h := newHarness(t, nil, func(_ *Deps, cfg *Config) {
		cfg.Timeout = 20 * time.Millisecond
	})
	h.oracle.block = true

	out := h.pipeline.Process(context.Background(), "alice", email("m1", "Anything", 0))
	if out.State != StateFailed || out.Reason != ReasonTimeout {
		t.Fatalf("expected timeout failure, got %+v", out)
	}
}

func TestOracleFailure(t *testing.T) {
	h := newHarness(t, map[string]string{})

	out := h.pipeline.Process(context.Background(), "alice", email("m1", "Unknown", 0))
	if out.State != StateFailed || !strings.Contains(out.Reason, "classify") {
		t.Fatalf("expected classify failure, got %+v", out)
	}
}

func TestRunSummary(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarness(t, map[string]string{
		"Thanks for applying": appliedAcme,
		"Your application":    rejectedAcme,
		"Weekly digest":       `{"classification":"other"}`,
		"Online assessment":   interviewInit,
	}, func(d *Deps, _ *Config) {
		d.Logger = zap.New(core)
	})
	h.pipeline.newRun = func() string { return "run-1" }

	emails := []mailbox.Email{
		email("m4", "Broken", 4*time.Hour),
		email("m2", "Your application", 2*time.Hour),
		email("m1", "Thanks for applying", 0),
		email("m3", "Weekly digest", 3*time.Hour),
		email("m5", "Online assessment", 5*time.Hour),
	}

	summary := h.pipeline.Run(context.Background(), "alice", emails)

	if summary.RunID != "run-1" || summary.User != "alice" || summary.Total != 5 {
		t.Fatalf("unexpected summary header %+v", summary)
	}
	if summary.Created != 1 || summary.Matched != 1 || summary.Skipped != 1 || summary.Failed != 1 || summary.Unresolved != 1 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	if summary.Applications != 1 || summary.Rejections != 1 {
		t.Fatalf("unexpected stage counts %+v", summary)
	}
	if summary.Outcomes[0].MessageID != "m1" || summary.Outcomes[1].MessageID != "m2" {
		t.Fatalf("expected oldest first, got %+v", summary.Outcomes)
	}
	if !summary.Watermark.Equal(day.Add(3 * time.Hour)) {
		t.Fatalf("watermark must stop before the first failure, got %v", summary.Watermark)
	}

	finished := logs.FilterMessage("processing run finished").All()
	if len(finished) != 1 {
		t.Fatalf("expected run summary log, got %d", len(finished))
	}
	if got := finished[0].ContextMap()["run_id"]; got != "run-1" {
		t.Fatalf("expected run id in log context, got %v", got)
	}
}

func TestNewValidatesDeps(t *testing.T) {
	if _, err := New(Deps{}, Config{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}
