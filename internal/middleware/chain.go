package middleware

import (
	"net/http"
)

// Middleware wraps an http.Handler and returns a new http.Handler
type Middleware func(http.Handler) http.Handler

// Chain is an ordered list of middleware
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Then wraps h so that the first middleware of the chain runs first
func (c *Chain) Then(h http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// ThenFunc is Then for a handler function
func (c *Chain) ThenFunc(fn http.HandlerFunc) http.Handler {
	return c.Then(fn)
}

// Append returns a new chain with middlewares added at the end
func (c *Chain) Append(middlewares ...Middleware) *Chain {
	merged := make([]Middleware, 0, len(c.middlewares)+len(middlewares))
	merged = append(merged, c.middlewares...)
	merged = append(merged, middlewares...)
	return &Chain{middlewares: merged}
}

// ResponseWriter records the status code and body size written through it
type ResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
	written    bool
}

// NewResponseWriter wraps w. The status defaults to 200 until a handler
// writes something else.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	if rw, ok := w.(*ResponseWriter); ok {
		return rw
	}
	return &ResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader records the status and forwards the first call only
func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.written {
		return
	}
	rw.statusCode = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Status returns the status code written so far
func (rw *ResponseWriter) Status() int {
	return rw.statusCode
}

// BytesWritten returns the body size written so far
func (rw *ResponseWriter) BytesWritten() int {
	return rw.size
}

// Written reports whether the header has been sent
func (rw *ResponseWriter) Written() bool {
	return rw.written
}

// Unwrap exposes the underlying writer to http.ResponseController
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
