// Package middleware implements the onion model middleware chain for the
// server's request handler.
//
// Middleware wraps the handler to add cross-cutting concerns (logging, rate
// limiting) without modifying the handler itself:
//
//	Chain(A, B)(handler)  →  A(B(handler))
//
//	Request:   A.before → B.before → handler
//	Response:  handler → B.after → A.after
//
// A middleware may short-circuit by returning without calling next. Under
// this runtime's failure model a handler error terminates the connection, so
// short-circuiting middlewares shed the whole connection, not one request.
package middleware

// Handler is the function signature the chain wraps: serve one request,
// return the reply or a failure. Handlers must be safe for concurrent
// invocation from many connections.
type Handler[Request, Reply any] func(req *Request) (Reply, error)

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware[Request, Reply any] func(next Handler[Request, Reply]) Handler[Request, Reply]

// Chain composes middlewares into one. It builds from right to left so the
// first middleware in the list is the outermost layer.
func Chain[Request, Reply any](middlewares ...Middleware[Request, Reply]) Middleware[Request, Reply] {
	return func(next Handler[Request, Reply]) Handler[Request, Reply] {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
