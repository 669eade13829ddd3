package mailbox

import (
	"strings"
	"testing"
	"time"
)

const plainMessage = "From: Acme Recruiting <jobs@acme.example>\r\n" +
	"To: alice@example.com\r\n" +
	"Subject: Thank you for applying to Acme Corp\r\n" +
	"Date: Thu, 01 Feb 2024 10:00:00 +0000\r\n" +
	"Message-ID: <abc123@acme.example>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi Alice,\r\nWe received your application for Backend Engineer.\r\n"

const multipartMessage = "From: careers@globex.example\r\n" +
	"Subject: =?utf-8?q?Interview_invitation_=E2=80=93_Globex?=\r\n" +
	"Date: Mon, 05 Feb 2024 08:30:00 +0100\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><style>p{}</style><body><p>Round&nbsp;1 on <b>Feb 10</b></p><p>See you</p></body></html>\r\n" +
	"--b1--\r\n"

func TestParseMessagePlain(t *testing.T) {
	email, err := ParseMessage(strings.NewReader(plainMessage))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if email.Subject != "Thank you for applying to Acme Corp" {
		t.Fatalf("unexpected subject %q", email.Subject)
	}
	if email.ID != "abc123@acme.example" {
		t.Fatalf("unexpected id %q", email.ID)
	}
	if email.From != "jobs@acme.example" {
		t.Fatalf("unexpected from %q", email.From)
	}
	if !email.SentAt.Equal(time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", email.SentAt)
	}
	if !strings.Contains(email.Body, "Backend Engineer") {
		t.Fatalf("unexpected body %q", email.Body)
	}
}

func TestParseMessageHTMLFallback(t *testing.T) {
	email, err := ParseMessage(strings.NewReader(multipartMessage))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if email.Subject != "Interview invitation – Globex" {
		t.Fatalf("unexpected subject %q", email.Subject)
	}
	if strings.Contains(email.Body, "<") || strings.Contains(email.Body, "p{}") {
		t.Fatalf("markup left in body %q", email.Body)
	}
	if !strings.Contains(email.Body, "Round 1 on Feb 10") {
		t.Fatalf("unexpected body %q", email.Body)
	}
}

func TestHTMLToText(t *testing.T) {
	got := HTMLToText("<div>Hello&amp;welcome</div><script>var x = 1;</script><br>Line   two")
	want := "Hello&welcome\n\nLine two"
	if got != want {
		t.Fatalf("HTMLToText() = %q, want %q", got, want)
	}
}

func TestAfter(t *testing.T) {
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	emails := []Email{
		{ID: "c", SentAt: base.Add(3 * time.Hour)},
		{ID: "a", SentAt: base},
		{ID: "b", SentAt: base.Add(time.Hour)},
	}

	got := After(emails, base)
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("unexpected emails %+v", got)
	}

	all := After(emails, time.Time{})
	if len(all) != 3 || all[0].ID != "a" {
		t.Fatalf("expected all emails sorted, got %+v", all)
	}
}
