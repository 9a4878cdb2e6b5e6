// Package logger builds the process slog.Logger.
//
// Records go to stdout as JSON or text. With a Sentry DSN configured,
// warnings are also shipped as Sentry logs and errors raise Sentry issues.
// [ContextExtractor] functions add request-scoped attributes such as the
// request ID or tenant ID to every record logged with a context:
//
//	log, flush := logger.New(cfg, os.Stdout, middlewares.RequestIDExtractor())
//	defer flush()
//	log.InfoContext(ctx, "file uploaded", slog.String("file_id", id))
package logger
