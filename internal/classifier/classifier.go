// Package classifier turns raw e-mail text into a typed job application
// lifecycle event by consulting a classification oracle and defensively
// parsing what it returns.
package classifier

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/ai"
	"github.com/spigell/jobmail/internal/utils"
)

type Stage string

const (
	StageApplied   Stage = "applied"
	StageRejected  Stage = "rejected"
	StageInterview Stage = "interview"
	StageOffer     Stage = "offer"
	StageOther     Stage = "other"
)

// ParseStage normalises an oracle label. Unknown labels are StageOther.
func ParseStage(label string) Stage {
	if stage, ok := knownStage(label); ok {
		return stage
	}
	return StageOther
}

func knownStage(label string) (Stage, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "applied", "application":
		return StageApplied, true
	case "rejected", "rejection":
		return StageRejected, true
	case "interview":
		return StageInterview, true
	case "offer":
		return StageOffer, true
	case "other", "none", "none of these":
		return StageOther, true
	default:
		return "", false
	}
}

// IsJobStage reports whether the stage carries extracted fields.
func (s Stage) IsJobStage() bool {
	switch s {
	case StageApplied, StageRejected, StageInterview, StageOffer:
		return true
	default:
		return false
	}
}

// Fields are the attributes extracted for a job stage. Status always equals
// the stage.
type Fields struct {
	CompanyName   string    `json:"company_name"`
	Role          string    `json:"role"`
	EventDate     time.Time `json:"event_date"`
	Location      string    `json:"location,omitempty"`
	JobID         string    `json:"job_id,omitempty"`
	InterviewType string    `json:"interview_type,omitempty"`
	Round         string    `json:"round,omitempty"`
	Status        string    `json:"status"`
}

// ClassifiedEmail is the result of classifying one message. Fields is nil for
// StageOther.
type ClassifiedEmail struct {
	Stage  Stage   `json:"stage"`
	Fields *Fields `json:"fields,omitempty"`
}

// Validate reports a job stage that lacks the company or role needed to act
// on it.
func (c *ClassifiedEmail) Validate() error {
	if c == nil || !c.Stage.IsJobStage() {
		return nil
	}

	var missing []string
	if c.Fields == nil || c.Fields.CompanyName == "" {
		missing = append(missing, "company_name")
	}
	if c.Fields == nil || c.Fields.Role == "" {
		missing = append(missing, "role")
	}
	if len(missing) > 0 {
		return ai.MalformedOutput("validate", fmt.Errorf("%s classification without %s", c.Stage, strings.Join(missing, ", ")))
	}

	return nil
}

type Config struct {
	MaxBodyLength    int
	MaxLogLength     int
	SubjectHeuristic bool
}

const (
	defaultMaxBodyLength = 3000
	defaultMaxLogLength  = 200
)

//go:embed prompt.md
var promptTemplate string

type Classifier struct {
	oracle ai.ClassificationOracle
	logger *zap.Logger
	cfg    Config
}

func New(oracle ai.ClassificationOracle, cfg Config, logger *zap.Logger) (*Classifier, error) {
	if oracle == nil {
		return nil, errors.New("classification oracle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = defaultMaxBodyLength
	}
	if cfg.MaxLogLength <= 0 {
		cfg.MaxLogLength = defaultMaxLogLength
	}

	return &Classifier{oracle: oracle, logger: logger, cfg: cfg}, nil
}

// Classify sends content to the oracle and parses its answer. Oracle and
// decoding failures are returned as ai.ErrOracle.
func (c *Classifier) Classify(ctx context.Context, content string, sentAt time.Time) (*ClassifiedEmail, error) {
	p, err := c.consult(ctx, content, sentAt)
	if err != nil {
		return nil, err
	}
	return p.classify(sentAt), nil
}

// ClassifyMessage formats subject and body for the oracle, truncating the
// body, and optionally applies the acknowledgement subject heuristic.
func (c *Classifier) ClassifyMessage(ctx context.Context, subject, body string, sentAt time.Time) (*ClassifiedEmail, error) {
	content := formatMessage(subject, truncateRunes(body, c.cfg.MaxBodyLength))

	p, err := c.consult(ctx, content, sentAt)
	if err != nil {
		return nil, err
	}

	result := p.classify(sentAt)
	if c.cfg.SubjectHeuristic && result.Stage == StageOther {
		if promoted := promoteAcknowledgement(subject, p, sentAt); promoted != nil {
			c.logger.Debug("classification promoted by subject",
				zap.String("subject", utils.TruncateForLog(subject, c.cfg.MaxLogLength)),
				zap.String("company", promoted.Fields.CompanyName),
			)
			return promoted, nil
		}
	}

	return result, nil
}

func (c *Classifier) consult(ctx context.Context, content string, sentAt time.Time) (*payload, error) {
	raw, err := c.oracle.Classify(ctx, ai.ClassifyRequest{
		Instructions:  buildInstructions(sentAt),
		Content:       content,
		ReferenceDate: sentAt,
	})
	if err != nil {
		return nil, ai.OracleFailure("classify", err)
	}

	p, err := parsePayload(raw)
	if err != nil {
		c.logger.Warn("cannot parse oracle response",
			zap.Int("response_length", utf8.RuneCountInString(raw)),
			zap.String("response_preview", utils.TruncateForLog(raw, c.cfg.MaxLogLength)),
			zap.Error(err),
		)
		return nil, ai.OracleFailure("parse", err)
	}

	return p, nil
}

func (p *payload) classify(sentAt time.Time) *ClassifiedEmail {
	stage := ParseStage(p.label)
	if !stage.IsJobStage() {
		return &ClassifiedEmail{Stage: StageOther}
	}

	// A nested status of "other" wins over a job-stage classification.
	if nested, ok := knownStage(p.fields.Status); ok && nested == StageOther {
		return &ClassifiedEmail{Stage: StageOther}
	}

	return &ClassifiedEmail{Stage: stage, Fields: p.fields.toFields(stage, sentAt)}
}

func buildInstructions(sentAt time.Time) string {
	ref := "unknown"
	if !sentAt.IsZero() {
		ref = sentAt.Format("2006-01-02")
	}
	return strings.ReplaceAll(promptTemplate, "{{REFERENCE_DATE}}", ref)
}

func formatMessage(subject, body string) string {
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	if subject == "" {
		return body
	}
	return "Subject: " + subject + "\n\n" + body
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

var (
	acknowledgementPhrases = []string{
		"thank you for applying",
		"thanks for applying",
		"application received",
		"thank you for your application",
		"thank you for your interest in",
	}
	subjectCompanyRe = regexp.MustCompile(`(?i)\b(?:to|at|in)\s+([A-Z0-9][\w&.,' -]*?)\s*(?:[-–—!|:(]|$)`)
)

func promoteAcknowledgement(subject string, p *payload, sentAt time.Time) *ClassifiedEmail {
	lower := strings.ToLower(subject)

	matched := false
	for _, phrase := range acknowledgementPhrases {
		if strings.Contains(lower, phrase) {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	role := clean(p.fields.Role)
	if role == "" {
		return nil
	}

	m := subjectCompanyRe.FindStringSubmatch(subject)
	if len(m) != 2 {
		return nil
	}
	company := strings.TrimRight(strings.TrimSpace(m[1]), ".,")
	if company == "" {
		return nil
	}

	fields := p.fields.toFields(StageApplied, sentAt)
	fields.CompanyName = company
	fields.Role = role

	return &ClassifiedEmail{Stage: StageApplied, Fields: fields}
}
