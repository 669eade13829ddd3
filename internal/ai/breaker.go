package ai

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes the circuit breaker placed in front of an oracle backend.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

func newBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("oracle circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// A caller giving up is not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// GuardedClassifier fails fast while the classification backend is unhealthy.
type GuardedClassifier struct {
	next ClassificationOracle
	cb   *gobreaker.CircuitBreaker
}

func NewGuardedClassifier(next ClassificationOracle, cfg BreakerConfig, logger *zap.Logger) *GuardedClassifier {
	return &GuardedClassifier{next: next, cb: newBreaker("classification-oracle", cfg, logger)}
}

func (g *GuardedClassifier) Classify(ctx context.Context, req ClassifyRequest) (string, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Classify(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// GuardedEmbedder fails fast while the embedding backend is unhealthy.
type GuardedEmbedder struct {
	next EmbeddingOracle
	cb   *gobreaker.CircuitBreaker
}

func NewGuardedEmbedder(next EmbeddingOracle, cfg BreakerConfig, logger *zap.Logger) *GuardedEmbedder {
	return &GuardedEmbedder{next: next, cb: newBreaker("embedding-oracle", cfg, logger)}
}

func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return out.([]float32), nil
}
