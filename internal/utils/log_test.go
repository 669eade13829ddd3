package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		limit  int
		expect string
	}{
		{
			name:   "returns empty when limit non-positive",
			input:  "Thank you for applying",
			limit:  0,
			expect: "",
		},
		{
			name:   "shorter than limit",
			input:  "Offer",
			limit:  10,
			expect: "Offer",
		},
		{
			name:   "truncates and adds ellipsis",
			input:  "Interview invitation",
			limit:  9,
			expect: "Interview...",
		},
		{
			name:   "flattens multi-line bodies",
			input:  "Subject: Update\n\n  Dear candidate,\r\n\tthanks",
			limit:  100,
			expect: "Subject: Update Dear candidate, thanks",
		},
		{
			name:   "counts runes not bytes",
			input:  "Пожалуйста",
			limit:  3,
			expect: "Пож...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateForLog(tt.input, tt.limit); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestWaitForReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitFor(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitForElapses(t *testing.T) {
	if err := WaitFor(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := WaitFor(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error for zero duration: %v", err)
	}
}
