// Package notify defines the email collaborator the orchestrator calls.
// Every send is best-effort: callers log failures and never roll back
// the operation that triggered the message.
package notify

import "context"

// Recipient identifies the user a message is addressed to.
type Recipient struct {
	UserID   int64
	Username string
	Email    string
}

// EmailSender delivers account emails.
type EmailSender interface {
	SendEmailVerification(ctx context.Context, to Recipient, token string) error
	SendPasswordReset(ctx context.Context, to Recipient, token string) error
	SendWelcomeEmail(ctx context.Context, to Recipient) error
}

// NoopSender drops every message.
type NoopSender struct{}

func (NoopSender) SendEmailVerification(context.Context, Recipient, string) error { return nil }

func (NoopSender) SendPasswordReset(context.Context, Recipient, string) error { return nil }

func (NoopSender) SendWelcomeEmail(context.Context, Recipient) error { return nil }
