// Package ai defines the oracle contracts the classification pipeline consumes
// and the error taxonomy shared by their implementations.
package ai

import (
	"context"
	"time"
)

// ClassifyRequest is one classification call: the instruction contract, the
// email text and the date the model should treat as "today" for the message.
type ClassifyRequest struct {
	Instructions  string
	Content       string
	ReferenceDate time.Time
}

// ClassificationOracle turns an email into the model's raw structured answer.
type ClassificationOracle interface {
	Classify(ctx context.Context, req ClassifyRequest) (string, error)
}

// EmbeddingOracle turns text into a fixed-length vector.
type EmbeddingOracle interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
