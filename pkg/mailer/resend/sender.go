// Package resend delivers mailer emails through the Resend API.
package resend

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/resend/resend-go/v3"

	"github.com/dmitrymomot/filevault/pkg/mailer"
)

// Sender implements mailer.Sender.
type Sender struct {
	client *resend.Client
	from   string
}

func New(cfg Config) *Sender {
	return &Sender{
		client: resend.NewClient(cfg.APIKey),
		from:   mailer.FormatAddress(cfg.SenderName, cfg.SenderEmail),
	}
}

func (s *Sender) Send(ctx context.Context, email *mailer.Email) error {
	from := email.From
	if from == "" {
		from = s.from
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      email.To,
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
		ReplyTo: email.ReplyTo,
		Tags:    tags(email.Tags),
	}

	if _, err := s.client.Emails.SendWithContext(ctx, req); err != nil {
		return fmt.Errorf("resend: send: %w", err)
	}
	return nil
}

func tags(in map[string]string) []resend.Tag {
	if len(in) == 0 {
		return nil
	}
	out := make([]resend.Tag, 0, len(in))
	for _, name := range slices.Sorted(maps.Keys(in)) {
		out = append(out, resend.Tag{Name: name, Value: in[name]})
	}
	return out
}

var _ mailer.Sender = (*Sender)(nil)
