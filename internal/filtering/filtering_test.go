package filtering

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobmail/internal/mailbox"
)

func ids(emails []mailbox.Email) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		out = append(out, e.ID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunDefaultChain(t *testing.T) {
	dir := t.TempDir()
	excludeFile := filepath.Join(dir, "exclude.txt")
	if err := os.WriteFile(excludeFile, []byte("# noise\n<m5>\n\n"), 0o600); err != nil {
		t.Fatalf("write exclude file: %v", err)
	}

	emails := []mailbox.Email{
		{ID: "<m1>", From: "Jobs <jobs@acme.io>", Subject: "Thanks for applying", Body: "We got it"},
		{ID: "<m2>", From: "hr@acme.io", Subject: " ", Body: "\n"},
		{ID: "<m1>", From: "jobs@acme.io", Subject: "Thanks for applying", Body: "We got it"},
		{ID: "<m3>", From: "News <digest@newsletter.example>", Subject: "Weekly", Body: "Top stories"},
		{ID: "<m4>", From: "spam@ads.example", Subject: "Buy", Body: "now"},
		{ID: "<m5>", From: "recruiter@globex.com", Subject: "Hello", Body: "Hi"},
		{ID: "<m6>", From: "recruiter@globex.com", Subject: "Interview", Body: "Let's talk"},
	}

	cfg := &Config{
		ExcludeSenders: []string{"@newsletter.example", " SPAM@ads.example "},
		ExcludeFile:    excludeFile,
	}
	steps := Default()
	if err := Validate(cfg, steps); err != nil {
		t.Fatalf("validate: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	got, err := Run(context.Background(), Deps{Logger: zap.New(core)}, steps, emails)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"<m1>", "<m6>"}
	if !equal(ids(got), want) {
		t.Fatalf("unexpected e-mails left: %v, want %v", ids(got), want)
	}

	if n := logs.FilterMessage("filter step").Len(); n != 4 {
		t.Fatalf("expected 4 filter step entries, got %d", n)
	}
}

func TestDisableByName(t *testing.T) {
	steps := Default()
	if !DisableByName(steps, "duplicates", "flag") {
		t.Fatal("expected duplicates filter to be found")
	}
	if DisableByName(steps, "missing", "flag") {
		t.Fatal("unexpected match for unknown filter")
	}

	emails := []mailbox.Email{
		{ID: "<a>", Subject: "x"},
		{ID: "<a>", Subject: "x"},
	}
	if err := Validate(&Config{}, steps); err != nil {
		t.Fatalf("validate: %v", err)
	}
	got, err := Run(context.Background(), Deps{}, steps, emails)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("disabled filter must not drop e-mails, got %d", len(got))
	}

	for _, status := range Describe(steps) {
		if status.Name == "duplicates" {
			if status.Enabled || status.Reason != "flag" {
				t.Fatalf("unexpected status: %+v", status)
			}
		}
	}
}

func TestSendersValidation(t *testing.T) {
	f := NewSenders()
	if err := f.Validate(&Config{ExcludeSenders: []string{"@"}}); err == nil {
		t.Fatal("expected error for bare domain marker")
	}
}

func TestExcludeFileMissingIsIgnored(t *testing.T) {
	f := NewExcludeFile()
	if err := f.Validate(&Config{ExcludeFile: filepath.Join(t.TempDir(), "absent")}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	emails := []mailbox.Email{{ID: "<a>", Subject: "x"}}
	got, step, err := f.Apply(context.Background(), Deps{Logger: zap.NewNop()}, emails)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(got) != 1 || step.Dropped != 0 {
		t.Fatalf("unexpected result: %v %+v", got, step)
	}
}

func TestSenderAddress(t *testing.T) {
	tests := map[string]string{
		"Jane <Jane@Example.com>": "jane@example.com",
		"bob@example.com":         "bob@example.com",
		"":                        "",
		"not an address":          "not an address",
	}
	for in, want := range tests {
		if got := senderAddress(in); got != want {
			t.Errorf("senderAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
