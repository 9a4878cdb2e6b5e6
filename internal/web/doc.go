// Package web is the HTTP application layer: a chi router behind an
// error-returning handler signature, a request Context with JSON helpers,
// structured HTTP errors and a server runner with graceful shutdown.
//
// Handlers declare their routes through the Handler interface:
//
//	type Files struct{ svc *fsgraph.Service }
//
//	func (h *Files) Routes(r web.Router) {
//	    r.GET("/api/files/{id}", h.get)
//	}
//
// A non-nil error returned from a handler or middleware is passed to the
// application's ErrorHandler unless a response was already written.
package web
