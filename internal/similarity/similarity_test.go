package similarity

import (
	"math"
	"testing"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical", a: "Acme", b: "Acme", want: 0.9},
		{name: "legal suffix", a: "Acme", b: "Acme Corp", want: 0.9},
		{name: "case folded", a: "ACME corp", b: "acme Corp", want: 0.9},
		{name: "abbreviated role", a: "Backend Eng", b: "Backend Engineer", want: 0.9},
		{name: "disjoint", a: "Google", b: "Meta", want: 0},
		{name: "partial overlap", a: "Software Engineering Intern", b: "SWE Intern", want: 0.25},
		{name: "reordered tokens", a: "Engineer Backend", b: "Backend Engineer", want: 1},
		{name: "empty left", a: "", b: "Acme", want: 0},
		{name: "blank right", a: "Acme", b: "   ", want: 0},
		{name: "both empty", a: "", b: "", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Score(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestScoreSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"Acme", "Acme Corp"},
		{"Google", "Meta"},
		{"Senior Backend Engineer", "Backend Engineer II"},
		{"Data Scientist", "data  scientist, ML"},
		{"", "Stripe"},
	}

	for _, p := range pairs {
		if Score(p[0], p[1]) != Score(p[1], p[0]) {
			t.Fatalf("Score not symmetric for %q / %q", p[0], p[1])
		}
	}
}

func TestScoreBelowAcceptanceForUnrelatedCompanies(t *testing.T) {
	if got := Score("Google", "Meta"); got >= 0.7 {
		t.Fatalf("expected unrelated companies below 0.7, got %v", got)
	}
}
