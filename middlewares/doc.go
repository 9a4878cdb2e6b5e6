// Package middlewares provides the HTTP middleware of the service.
//
// Global chain, in order:
//
//	web.WithMiddleware(
//	    middlewares.RequestID(),
//	    middlewares.Metrics(m, api.StatusOf),
//	    middlewares.Recover(),
//	    middlewares.CORS(middlewares.WithAllowOrigins(origins...)),
//	)
//
// Route groups add Auth(secret) and Timeout(d); uploads skip Timeout and
// rely on the server read timeout. Recover and Timeout return typed errors
// (PanicError, TimeoutError) that the application's error handler renders.
//
// RequestIDExtractor and TenantExtractor feed request_id and tenant_id into
// every log record written with the request context.
package middlewares
