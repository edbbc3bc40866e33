package middleware

import (
	"net/http"
	"net/url"
	"time"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/logger"
)

var sensitiveQueryParams = []string{"token", "access_token", "api_key", "key"}

// Logging logs one line per completed request, at a level chosen by status
func Logging() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := NewResponseWriter(w)

			next.ServeHTTP(rw, r)

			status := rw.Status()
			if r.Context().Err() != nil && !rw.Written() {
				status = apperror.StatusClientClosedRequest
			}

			log := logger.FromContext(r.Context(), "http")
			fields := logger.Fields{
				"method":        r.Method,
				"path":          r.URL.Path,
				"query":         sanitizeQuery(r.URL.RawQuery),
				"status":        status,
				"duration_ms":   time.Since(start).Milliseconds(),
				"response_size": rw.BytesWritten(),
				"remote_ip":     getClientIP(r),
				"user_agent":    r.UserAgent(),
			}

			switch {
			case status >= http.StatusInternalServerError:
				log.Error("request completed", fields)
			case status >= http.StatusBadRequest:
				log.Warn("request completed", fields)
			default:
				log.Info("request completed", fields)
			}
		})
	}
}

func sanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return "[unparseable]"
	}
	for _, key := range sensitiveQueryParams {
		if values.Has(key) {
			values.Set(key, "[REDACTED]")
		}
	}
	return values.Encode()
}
