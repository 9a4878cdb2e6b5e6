package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

// Config is embedded in the application config.
type Config struct {
	Level             string `env:"LOG_LEVEL" envDefault:"info"`
	Format            string `env:"LOG_FORMAT" envDefault:"json"`
	SentryDSN         string `env:"SENTRY_DSN"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT" envDefault:"production"`
	SentryRelease     string `env:"SENTRY_RELEASE"`
}

// ParseLevel maps debug, info, warn and error; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w and, when a DSN is set, to Sentry. The
// returned flush blocks until buffered Sentry events are sent.
func New(cfg Config, w io.Writer, extractors ...ContextExtractor) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var out slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		out = slog.NewTextHandler(w, opts)
	} else {
		out = slog.NewJSONHandler(w, opts)
	}

	noop := func() {}
	if cfg.SentryDSN == "" {
		return slog.New(NewDecorator(out, extractors...)), noop
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     cfg.SentryRelease,
		EnableLogs:  true,
	})
	if err != nil {
		log := slog.New(NewDecorator(out, extractors...))
		log.Error("sentry disabled", slog.Any("error", err))
		return log, noop
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	log := slog.New(NewDecorator(fanout{out, sentryHandler}, extractors...))
	return log, func() { sentry.Flush(2 * time.Second) }
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
