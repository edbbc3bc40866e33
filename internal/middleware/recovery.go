package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/logger"
)

// Recovery turns a handler panic into a 500 response
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := NewResponseWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.FromContext(r.Context(), "recovery").Error("panic recovered", logger.Fields{
					"error":     fmt.Sprintf("%v", rec),
					"stack":     string(debug.Stack()),
					"method":    r.Method,
					"path":      r.URL.Path,
					"remote_ip": getClientIP(r),
				})

				if !rw.Written() {
					WriteError(rw, r, apperror.Wrap(apperror.KindInternal, "panic", fmt.Errorf("%v", rec)))
				}
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
