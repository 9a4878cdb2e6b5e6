// Package mailer renders markdown email templates into HTML and hands the
// result to a delivery provider.
//
// Templates are markdown files with optional YAML frontmatter. The body and
// the subject are text/template sources executed with the message data; the
// rendered markdown becomes the plain-text part and, converted by goldmark
// and wrapped in an html/template layout, the HTML part:
//
//	---
//	subject: "You are using {{.Percent}}% of your storage"
//	---
//	Hi {{.Name}},
//
//	your vault holds **{{.Used}}** of {{.Limit}}.
//
// Providers implement [Sender]. The resend subpackage talks to the Resend
// API; [LogSender] writes messages to a logger for local runs.
package mailer
