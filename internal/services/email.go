package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/verdant-edge/internal/kvstore"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
	"github.com/yungbote/verdant-edge/internal/platform/sendgrid"
)

const (
	EmailLogKey     = "email_log"
	DefaultLogLimit = 50
)

var ErrInvalidEmail = errors.New("invalid email")

type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
	// Kind tags the template that produced the message.
	Kind string `json:"kind,omitempty"`
}

type EmailRecord struct {
	EmailMessage
	MessageID string    `json:"messageId"`
	Delivered bool      `json:"delivered"`
	Timestamp time.Time `json:"timestamp"`
}

type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

type ContactForm struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Mailer delivers mail. *sendgrid.Client satisfies it.
type Mailer interface {
	Send(ctx context.Context, m sendgrid.Mail) (*sendgrid.Result, error)
}

type EmailService interface {
	Send(ctx context.Context, m EmailMessage) (*SendResult, error)
	SendContact(ctx context.Context, f ContactForm) (*SendResult, error)
	SendEarlyAccess(ctx context.Context, email, name string) (*SendResult, error)
	Log(ctx context.Context) ([]EmailRecord, error)
}

type emailService struct {
	log          *logger.Logger
	store        kvstore.Store
	mailer       Mailer
	supportEmail string
	limit        int
	now          func() time.Time
	mu           sync.Mutex
}

// NewEmailService records every message in the email log. When mailer is
// non-nil messages are also delivered through it.
func NewEmailService(store kvstore.Store, mailer Mailer, supportEmail string, limit int, baseLog *logger.Logger) EmailService {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	return &emailService{
		log:          baseLog.With("service", "EmailService"),
		store:        store,
		mailer:       mailer,
		supportEmail: supportEmail,
		limit:        limit,
		now:          time.Now,
	}
}

func (s *emailService) Send(ctx context.Context, m EmailMessage) (*SendResult, error) {
	m.To = strings.TrimSpace(m.To)
	if _, err := mail.ParseAddress(m.To); err != nil {
		return nil, fmt.Errorf("%w: recipient %q", ErrInvalidEmail, m.To)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return nil, fmt.Errorf("%w: subject required", ErrInvalidEmail)
	}

	rec := EmailRecord{EmailMessage: m, MessageID: "msg_" + uuid.NewString(), Timestamp: s.now().UTC()}
	if s.mailer != nil {
		out := sendgrid.Mail{
			To:      []sendgrid.EmailAddress{{Email: m.To}},
			Subject: m.Subject,
			Text:    m.Text,
			HTML:    m.HTML,
		}
		if m.Kind != "" {
			out.Categories = []string{m.Kind}
		}
		if m.ReplyTo != "" {
			out.ReplyTo = &sendgrid.EmailAddress{Email: m.ReplyTo}
		}
		res, err := s.mailer.Send(ctx, out)
		if err != nil {
			s.log.Error("Email delivery failed", "to", m.To, "kind", m.Kind, "error", err)
			return nil, err
		}
		rec.Delivered = true
		if res.MessageID != "" {
			rec.MessageID = res.MessageID
		}
	}

	if err := s.appendLog(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info("Email recorded", "to", m.To, "kind", m.Kind, "delivered", rec.Delivered)
	return &SendResult{Success: true, MessageID: rec.MessageID}, nil
}

// SendContact forwards a contact form to support and acknowledges the sender.
func (s *emailService) SendContact(ctx context.Context, f ContactForm) (*SendResult, error) {
	name := strings.TrimSpace(f.Name)
	if name == "" || strings.TrimSpace(f.Message) == "" {
		return nil, fmt.Errorf("%w: name and message required", ErrInvalidEmail)
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(f.Email)); err != nil {
		return nil, fmt.Errorf("%w: sender %q", ErrInvalidEmail, f.Email)
	}
	subject := strings.TrimSpace(f.Subject)
	if subject == "" {
		subject = "New contact message"
	}
	res, err := s.Send(ctx, EmailMessage{
		To:      s.supportEmail,
		Subject: "[Contact] " + subject,
		Text:    fmt.Sprintf("From: %s <%s>\n\n%s", name, strings.TrimSpace(f.Email), f.Message),
		ReplyTo: strings.TrimSpace(f.Email),
		Kind:    "contact",
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.Send(ctx, EmailMessage{
		To:      strings.TrimSpace(f.Email),
		Subject: "We received your message",
		Text:    fmt.Sprintf("Hi %s,\n\nThanks for reaching out to Verdant. We will get back to you soon.", name),
		Kind:    "contact-confirmation",
	}); err != nil {
		s.log.Warn("Contact confirmation failed", "error", err)
	}
	return res, nil
}

func (s *emailService) SendEarlyAccess(ctx context.Context, email, name string) (*SendResult, error) {
	name = strings.TrimSpace(name)
	greeting := "Hi there"
	if name != "" {
		greeting = "Hi " + name
	}
	return s.Send(ctx, EmailMessage{
		To:      email,
		Subject: "Welcome to Verdant early access",
		Text:    greeting + ",\n\nYou're on the list. We'll let you know as soon as your early access is ready.",
		HTML:    "<p>" + html.EscapeString(greeting) + ",</p><p>You're on the list. We'll let you know as soon as your early access is ready.</p>",
		Kind:    "early-access",
	})
}

// Log returns recorded messages, oldest first.
func (s *emailService) Log(ctx context.Context) ([]EmailRecord, error) {
	var out []EmailRecord
	if _, err := kvstore.GetJSON(ctx, s.store, EmailLogKey, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []EmailRecord{}
	}
	return out, nil
}

func (s *emailService) appendLog(ctx context.Context, rec EmailRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []EmailRecord
	if _, err := kvstore.GetJSON(ctx, s.store, EmailLogKey, &all); err != nil {
		return err
	}
	all = append(all, rec)
	if over := len(all) - s.limit; over > 0 {
		all = all[over:]
	}
	return kvstore.SetJSON(ctx, s.store, EmailLogKey, all)
}
