package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port:     "587",
				From:     "test@example.com",
				NotifyTo: []string{"ops@example.com"},
			},
			expected: false,
		},
		{
			name: "missing recipients",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host:     "smtp.example.com",
				Port:     "587",
				From:     "test@example.com",
				NotifyTo: []string{"ops@example.com"},
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestService(sent *[]sentMail, err error) *Service {
	svc := NewService(Config{
		Host:     "smtp.example.com",
		Port:     "587",
		From:     "moonbase@example.com",
		FromName: "Moonbase",
		NotifyTo: []string{"ops@example.com", "dave@example.com"},
	})
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*sent = append(*sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return err
	}
	return svc
}

func TestNotifyReviewSendsToMaintainers(t *testing.T) {
	var sent []sentMail
	svc := newTestService(&sent, nil)

	err := svc.NotifyReview(ReviewNotice{
		Event:     EventRevised,
		Project:   "Asteroids",
		Version:   "1.0",
		Authors:   []string{"simeon", "dave"},
		Revision:  3,
		ForumLink: "https://talk.example/t/77",
	})
	if err != nil {
		t.Fatalf("NotifyReview() error = %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(sent))
	}
	mail := sent[0]
	if mail.addr != "smtp.example.com:587" || mail.from != "moonbase@example.com" || len(mail.to) != 2 {
		t.Fatalf("unexpected envelope: %+v", mail)
	}
	for _, want := range []string{
		"Subject: [Moonbase] Asteroids 1.0 revised (revision 3)",
		"From: Moonbase <moonbase@example.com>",
		"revision #3",
		"simeon, dave",
		"https://talk.example/t/77",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Fatalf("message missing %q:\n%s", want, mail.msg)
		}
	}
}

func TestNotifyReviewEscapesHTML(t *testing.T) {
	var sent []sentMail
	svc := newTestService(&sent, nil)
	if err := svc.NotifyReview(ReviewNotice{Event: EventSubmitted, Project: "<b>x</b>", Version: "1"}); err != nil {
		t.Fatalf("NotifyReview() error = %v", err)
	}
	if !strings.Contains(sent[0].msg, "&lt;b&gt;x&lt;/b&gt;") {
		t.Fatalf("project name not escaped in html part")
	}
}

func TestNotifyReviewSkipsWhenUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	svc.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called")
		return nil
	}
	if err := svc.NotifyReview(ReviewNotice{Event: EventApproved, Project: "x", Version: "1"}); err != nil {
		t.Fatalf("NotifyReview() error = %v", err)
	}
}

func TestNotifyReviewReturnsSendError(t *testing.T) {
	var sent []sentMail
	svc := newTestService(&sent, errors.New("connection refused"))
	if err := svc.NotifyReview(ReviewNotice{Event: EventRejected, Project: "x", Version: "1"}); err == nil {
		t.Fatal("expected send error")
	}
}

func TestSubjectStripsLineBreaks(t *testing.T) {
	if got := sanitizeHeader("a\r\nBcc: evil@example.com"); strings.ContainsAny(got, "\r\n") {
		t.Fatalf("header not sanitized: %q", got)
	}
}
