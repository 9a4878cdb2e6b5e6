package mailer

import (
	"context"
	"log/slog"
	"strings"
)

// Email is a fully rendered message.
type Email struct {
	Tags    map[string]string
	To      []string
	Subject string
	HTML    string
	Text    string
	From    string
	ReplyTo string
}

// Sender delivers a rendered Email.
type Sender interface {
	Send(ctx context.Context, email *Email) error
}

// LogSender logs messages instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, email *Email) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "email",
		slog.String("to", strings.Join(email.To, ",")),
		slog.String("subject", email.Subject),
		slog.String("text", email.Text),
	)
	return nil
}

// FormatAddress renders "Name <email>", or the bare address without a name.
func FormatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return name + " <" + email + ">"
}
