package ai

import (
	"errors"
	"fmt"
)

var (
	ErrOracle          = errors.New("classification oracle failed")
	ErrEmbedding       = errors.New("embedding oracle failed")
	ErrIndex           = errors.New("candidate index failed")
	ErrMalformedOutput = errors.New("malformed oracle output")
)

// Error ties a failure to one of the taxonomy kinds above while keeping the
// underlying cause reachable through errors.Is and errors.As.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func OracleFailure(op string, err error) error {
	return &Error{Kind: ErrOracle, Op: op, Err: err}
}

func EmbeddingFailure(op string, err error) error {
	return &Error{Kind: ErrEmbedding, Op: op, Err: err}
}

func IndexFailure(op string, err error) error {
	return &Error{Kind: ErrIndex, Op: op, Err: err}
}

func MalformedOutput(op string, err error) error {
	return &Error{Kind: ErrMalformedOutput, Op: op, Err: err}
}
