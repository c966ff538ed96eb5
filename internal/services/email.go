package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/huangang/taskreport/internal/config"
	"github.com/huangang/taskreport/internal/docgen"
	"github.com/huangang/taskreport/pkg/logger"
	"gopkg.in/gomail.v2"
)

var (
	// ErrMailDisabled is transient: the run is retried once mail is configured.
	ErrMailDisabled = errors.New("mail delivery is disabled")
	ErrNoRecipients = errors.New("report has no recipients")
)

const (
	defaultMailSubject = "{{.Name}} ({{.PeriodStart}} - {{.PeriodEnd}})"
	defaultMailText    = "Please find the {{.Name}} report for {{.PeriodStart}} - {{.PeriodEnd}} attached."
	mailDateLayout     = "2006-01-02"
)

// Message is one report mail with the rendered document attached.
type Message struct {
	SenderName string
	Subject    string
	Body       string
	Recipients []string
	Attachment []byte
	Format     docgen.Format
	FileName   string
}

// DeliverySink hands a rendered report to the mail transport. Delivery is at least
// once: a run that fails after sending is sent again on the next tick.
type DeliverySink interface {
	Send(ctx context.Context, msg *Message) error
}

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailService struct {
	cfg    config.SMTPConfig
	dialer mailDialer
}

func NewEmailService(cfg config.SMTPConfig) *EmailService {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.UseSSL
	return &EmailService{cfg: cfg, dialer: d}
}

func (s *EmailService) Enabled() bool {
	return s.cfg.Enabled && s.cfg.Host != ""
}

func (s *EmailService) Send(ctx context.Context, msg *Message) error {
	if !s.Enabled() {
		return ErrMailDisabled
	}
	if len(msg.Recipients) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := s.buildMessage(msg)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send mail via %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	logger.Infof("[Email] Sent %q to %d recipients (%s, %d bytes)", msg.Subject, len(msg.Recipients), msg.Format, len(msg.Attachment))
	return nil
}

func (s *EmailService) buildMessage(msg *Message) *gomail.Message {
	from := s.cfg.From
	if from == "" {
		from = s.cfg.Username
	}

	m := gomail.NewMessage()
	if msg.SenderName != "" {
		m.SetAddressHeader("From", from, msg.SenderName)
	} else {
		m.SetHeader("From", from)
	}
	m.SetHeader("To", msg.Recipients...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	if len(msg.Attachment) > 0 {
		data := msg.Attachment
		m.Attach(msg.FileName,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {msg.Format.ContentType()}}),
		)
	}
	return m
}

// MailTemplateData are the placeholders available in subject and body templates.
type MailTemplateData struct {
	Name        string
	PeriodStart string
	PeriodEnd   string
	GeneratedAt string
	Format      string
	Entries     int
}

func newMailTemplateData(name string, content *docgen.Content, format docgen.Format, generatedAt time.Time) MailTemplateData {
	return MailTemplateData{
		Name:        name,
		PeriodStart: content.PeriodStart.Format(mailDateLayout),
		PeriodEnd:   content.PeriodEnd.Format(mailDateLayout),
		GeneratedAt: generatedAt.Format("2006-01-02 15:04"),
		Format:      string(format),
		Entries:     content.EntryCount(),
	}
}

// renderMailTemplate executes text as a template. Text that is not a valid
// template is sent as written.
func renderMailTemplate(name, text string, data MailTemplateData) string {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		logger.Warnf("[Email] %s is not a valid template, sending raw text: %v", name, err)
		return text
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		logger.Warnf("[Email] failed to render %s, sending raw text: %v", name, err)
		return text
	}
	return buf.String()
}

// composeMessage fills subject and body from the configuration templates.
func composeMessage(subject, body string, data MailTemplateData, summary string) (string, string) {
	if strings.TrimSpace(subject) == "" {
		subject = defaultMailSubject
	}
	if strings.TrimSpace(body) == "" {
		body = defaultMailText
	}
	renderedBody := renderMailTemplate("body", body, data)
	if summary != "" {
		renderedBody = strings.TrimRight(renderedBody, "\n") + "\n\nSummary\n\n" + summary + "\n"
	}
	return renderMailTemplate("subject", subject, data), renderedBody
}
