package web

// Handler declares routes on a router.
type Handler interface {
	Routes(r Router)
}

// HandlerFunc handles a request. A returned error is rendered by the
// application's ErrorHandler.
type HandlerFunc func(c Context) error

// Middleware wraps a HandlerFunc. It may short-circuit by returning an
// error without calling next.
type Middleware func(next HandlerFunc) HandlerFunc

// ErrorHandler renders an error returned from a handler.
type ErrorHandler func(Context, error) error
