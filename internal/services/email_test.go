package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/huangang/taskreport/internal/config"
	"github.com/huangang/taskreport/internal/docgen"
	"gopkg.in/gomail.v2"
)

type recordingDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *recordingDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func newTestEmailService(d *recordingDialer) *EmailService {
	s := NewEmailService(config.SMTPConfig{Enabled: true, Host: "smtp.example.com", Port: 587, From: "reports@example.com"})
	s.dialer = d
	return s
}

func TestEmailService_Send(t *testing.T) {
	d := &recordingDialer{}
	s := newTestEmailService(d)

	err := s.Send(context.Background(), &Message{
		SenderName: "Task Tracker",
		Subject:    "Weekly report",
		Body:       "See attachment",
		Recipients: []string{"alice@example.com", "bob@example.com"},
		Attachment: []byte("%PDF-1.3 fake"),
		Format:     docgen.FormatPDF,
		FileName:   "report-1-20261014.pdf",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(d.sent) != 1 {
		t.Fatalf("sent %d messages", len(d.sent))
	}

	m := d.sent[0]
	if got := m.GetHeader("To"); len(got) != 2 {
		t.Errorf("To = %v", got)
	}
	if got := m.GetHeader("From"); len(got) != 1 || !strings.Contains(got[0], "Task Tracker") || !strings.Contains(got[0], "reports@example.com") {
		t.Errorf("From = %v", got)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.String()
	for _, want := range []string{"Subject: Weekly report", "application/pdf", `filename="report-1-20261014.pdf"`} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestEmailService_SendErrors(t *testing.T) {
	ctx := context.Background()
	msg := &Message{Subject: "s", Recipients: []string{"a@example.com"}}

	disabled := NewEmailService(config.SMTPConfig{Enabled: false, Host: "smtp.example.com"})
	if err := disabled.Send(ctx, msg); !errors.Is(err, ErrMailDisabled) {
		t.Errorf("disabled Send() error = %v", err)
	}

	s := newTestEmailService(&recordingDialer{})
	if err := s.Send(ctx, &Message{Subject: "s"}); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("no recipients error = %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.Send(cancelled, msg); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Send() error = %v", err)
	}

	failing := newTestEmailService(&recordingDialer{err: errors.New("connection refused")})
	if err := failing.Send(ctx, msg); err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("transport error = %v", err)
	}
}

func TestComposeMessage(t *testing.T) {
	content := &docgen.Content{
		PeriodStart: time.Date(2026, 10, 7, 9, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
	}
	data := newMailTemplateData("Platform weekly", content, docgen.FormatPDF, time.Date(2026, 10, 14, 9, 1, 0, 0, time.UTC))

	tests := []struct {
		name        string
		subject     string
		body        string
		summary     string
		wantSubject string
		wantBody    string
	}{
		{
			name:        "defaults",
			wantSubject: "Platform weekly (2026-10-07 - 2026-10-14)",
			wantBody:    "Please find the Platform weekly report for 2026-10-07 - 2026-10-14 attached.",
		},
		{
			name:        "placeholders",
			subject:     "[{{.Format}}] {{.Name}}",
			body:        "Generated {{.GeneratedAt}}, {{.Entries}} entries",
			wantSubject: "[PDF] Platform weekly",
			wantBody:    "Generated 2026-10-14 09:01, 0 entries",
		},
		{
			name:        "invalid template is sent raw",
			subject:     "Report {{.Name",
			body:        "Hello {{ nope }}",
			wantSubject: "Report {{.Name",
			wantBody:    "Hello {{ nope }}",
		},
		{
			name:        "summary appended",
			subject:     "s",
			body:        "Hello\n",
			summary:     "All good.",
			wantSubject: "s",
			wantBody:    "Hello\n\nSummary\n\nAll good.\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, body := composeMessage(tt.subject, tt.body, data, tt.summary)
			if subject != tt.wantSubject {
				t.Errorf("subject = %q, expected %q", subject, tt.wantSubject)
			}
			if body != tt.wantBody {
				t.Errorf("body = %q, expected %q", body, tt.wantBody)
			}
		})
	}
}
