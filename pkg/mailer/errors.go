package mailer

import "errors"

var (
	ErrNoRecipient        = errors.New("mailer: message has no recipient")
	ErrNoSubject          = errors.New("mailer: message has no subject")
	ErrTemplateNotFound   = errors.New("mailer: template not found")
	ErrLayoutNotFound     = errors.New("mailer: layout not found")
	ErrRenderFailed       = errors.New("mailer: failed to render template")
	ErrSendFailed         = errors.New("mailer: failed to send email")
	ErrInvalidFrontmatter = errors.New("mailer: invalid frontmatter")
)
