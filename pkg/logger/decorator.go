package logger

import (
	"context"
	"log/slog"
)

// ContextExtractor returns an attribute found in ctx.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// Decorator runs extractors on every record before delegating.
type Decorator struct {
	next       slog.Handler
	extractors []ContextExtractor
}

// NewDecorator wraps next. Nil extractors are dropped.
func NewDecorator(next slog.Handler, extractors ...ContextExtractor) slog.Handler {
	clean := make([]ContextExtractor, 0, len(extractors))
	for _, ex := range extractors {
		if ex != nil {
			clean = append(clean, ex)
		}
	}
	return &Decorator{next: next, extractors: clean}
}

func (h *Decorator) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Decorator) Handle(ctx context.Context, rec slog.Record) error {
	for _, ex := range h.extractors {
		if attr, ok := ex(ctx); ok {
			rec.AddAttrs(attr)
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *Decorator) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Decorator{next: h.next.WithAttrs(attrs), extractors: h.extractors}
}

func (h *Decorator) WithGroup(name string) slog.Handler {
	return &Decorator{next: h.next.WithGroup(name), extractors: h.extractors}
}
