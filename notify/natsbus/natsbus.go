// Package natsbus publishes account emails and audit events to NATS.
// A mail service subscribed to the email subjects performs delivery.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/notify"
)

// Publisher is the subset of *nats.Conn used here.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subjects names the NATS subjects messages go to.
type Subjects struct {
	Verification  string
	PasswordReset string
	Welcome       string
	Audit         string
}

// DefaultSubjects returns the authcore.* subject tree.
func DefaultSubjects() Subjects {
	return Subjects{
		Verification:  "authcore.email.verification",
		PasswordReset: "authcore.email.password_reset",
		Welcome:       "authcore.email.welcome",
		Audit:         "authcore.audit",
	}
}

// Connect dials url with reconnect settings suited to a long-lived service.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// EmailMessage is the payload of every email subject.
type EmailMessage struct {
	Kind     string    `json:"kind"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Token    string    `json:"token,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// EmailPublisher implements notify.EmailSender over NATS.
type EmailPublisher struct {
	pub      Publisher
	subjects Subjects
	now      func() time.Time
}

var _ notify.EmailSender = (*EmailPublisher)(nil)

// NewEmailPublisher creates an EmailPublisher.
func NewEmailPublisher(pub Publisher, subjects Subjects) *EmailPublisher {
	return &EmailPublisher{pub: pub, subjects: subjects, now: time.Now}
}

func (p *EmailPublisher) SendEmailVerification(ctx context.Context, to notify.Recipient, token string) error {
	return p.publish(ctx, p.subjects.Verification, "verification", to, token)
}

func (p *EmailPublisher) SendPasswordReset(ctx context.Context, to notify.Recipient, token string) error {
	return p.publish(ctx, p.subjects.PasswordReset, "password_reset", to, token)
}

func (p *EmailPublisher) SendWelcomeEmail(ctx context.Context, to notify.Recipient) error {
	return p.publish(ctx, p.subjects.Welcome, "welcome", to, "")
}

func (p *EmailPublisher) publish(ctx context.Context, subject, kind string, to notify.Recipient, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(EmailMessage{
		Kind:     kind,
		UserID:   to.UserID,
		Username: to.Username,
		Email:    to.Email,
		Token:    token,
		SentAt:   p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("natsbus: marshal %s email: %w", kind, err)
	}
	if err := p.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("natsbus: publish %s: %w", subject, err)
	}
	return nil
}

// AuditSink publishes audit events as JSON. Publish failures are logged.
type AuditSink struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
}

var _ audit.Sink = (*AuditSink)(nil)

// NewAuditSink creates an AuditSink. A nil logger uses slog.Default.
func NewAuditSink(pub Publisher, subject string, logger *slog.Logger) *AuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditSink{pub: pub, subject: subject, logger: logger}
}

func (s *AuditSink) Emit(ctx context.Context, event audit.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal audit event", slog.String("event", event.EventType), slog.Any("error", err))
		return
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		s.logger.WarnContext(ctx, "publish audit event", slog.String("event", event.EventType), slog.Any("error", err))
	}
}
