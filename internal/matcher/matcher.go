// Package matcher resolves a lifecycle event to the prior application it
// belongs to.
package matcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/ai"
	"github.com/spigell/jobmail/internal/index"
	"github.com/spigell/jobmail/internal/similarity"
)

type Config struct {
	TopK          int     `mapstructure:"top-k"`
	CompanyWeight float64 `mapstructure:"company-weight"`
	RoleWeight    float64 `mapstructure:"role-weight"`
	// Threshold is exclusive: a candidate must score strictly above it.
	Threshold float64 `mapstructure:"threshold"`
}

func DefaultConfig() Config {
	return Config{TopK: 3, CompanyWeight: 0.6, RoleWeight: 0.4, Threshold: 0.7}
}

func (c Config) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("top-k must be positive, got %d", c.TopK)
	}
	if c.CompanyWeight < 0 || c.RoleWeight < 0 || c.CompanyWeight+c.RoleWeight == 0 {
		return fmt.Errorf("weights must be non-negative and not both zero")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0,1], got %v", c.Threshold)
	}
	return nil
}

// Query describes the event to resolve. Stage and Round only feed logging.
type Query struct {
	User        string
	CompanyName string
	Role        string
	Stage       string
	Round       string
}

type Match struct {
	ApplicationID int64
	CandidateID   string
	Score         float64
}

type Matcher struct {
	embedder ai.EmbeddingOracle
	index    index.Index
	cfg      Config
	logger   *zap.Logger
}

func New(embedder ai.EmbeddingOracle, idx index.Index, cfg Config, logger *zap.Logger) (*Matcher, error) {
	if embedder == nil {
		return nil, errors.New("embedding oracle is required")
	}
	if idx == nil {
		return nil, errors.New("candidate index is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("matching config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Matcher{embedder: embedder, index: idx, cfg: cfg, logger: logger}, nil
}

// QueryText is the text embedded for both applications and lookups.
func QueryText(role, company string) string {
	return role + " at " + company
}

// FindMatch returns the best candidate whose fused company/role similarity
// exceeds the threshold, or nil when none does. Ties keep the first candidate
// in index order.
func (m *Matcher) FindMatch(ctx context.Context, q Query) (*Match, error) {
	vector, err := m.embedder.Embed(ctx, QueryText(q.Role, q.CompanyName))
	if err != nil {
		return nil, ai.EmbeddingFailure("embed query", err)
	}

	candidates, err := m.index.Query(ctx, q.User, vector, index.Filter{Type: index.TypeApplication}, m.cfg.TopK)
	if err != nil {
		return nil, ai.IndexFailure("query candidates", err)
	}

	log := m.logger.With(
		zap.String("stage", q.Stage),
		zap.String("company", q.CompanyName),
		zap.String("role", q.Role),
	)
	if q.Round != "" {
		log = log.With(zap.String("round", q.Round))
	}

	var best *Match
	for _, c := range candidates {
		score := m.Combined(q.CompanyName, q.Role, c.Metadata.CompanyName, c.Metadata.Role)

		log.Debug("scored candidate",
			zap.String("candidate", c.ID),
			zap.Float64("index_score", c.Score),
			zap.Float64("combined", score),
		)

		if score <= m.cfg.Threshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &Match{ApplicationID: c.Metadata.ApplicationID, CandidateID: c.ID, Score: score}
		}
	}

	if best == nil {
		log.Debug("no candidate above threshold", zap.Int("candidates", len(candidates)))
		return nil, nil
	}

	return best, nil
}

// Combined fuses company and role similarity with the configured weights.
func (m *Matcher) Combined(company, role, candidateCompany, candidateRole string) float64 {
	return m.cfg.CompanyWeight*similarity.Score(company, candidateCompany) +
		m.cfg.RoleWeight*similarity.Score(role, candidateRole)
}
