package mailer

import (
	"context"
	"errors"
)

// Message is a templated email request.
type Message struct {
	Tags     map[string]string
	Data     any
	To       string
	Template string
	// Subject overrides the template subject.
	Subject string
}

// Mailer renders templates and delivers them through a Sender.
type Mailer struct {
	sender   Sender
	renderer *Renderer
	config   Config
}

func New(sender Sender, renderer *Renderer, cfg Config) *Mailer {
	if cfg.Layout == "" {
		cfg.Layout = "base.html"
	}
	return &Mailer{sender: sender, renderer: renderer, config: cfg}
}

// Send renders msg and delivers it. The subject is taken from msg, then the
// template frontmatter, then the configured fallback.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}

	out, err := m.renderer.Render(m.config.Layout, msg.Template, msg.Data)
	if err != nil {
		return err
	}

	subject := msg.Subject
	if subject == "" {
		subject = out.Subject
	}
	if subject == "" {
		subject = m.config.FallbackSubject
	}
	if subject == "" {
		return ErrNoSubject
	}

	email := &Email{
		To:      []string{msg.To},
		Subject: subject,
		HTML:    out.HTML,
		Text:    out.Text,
		Tags:    msg.Tags,
	}
	if err := m.sender.Send(ctx, email); err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	return nil
}
