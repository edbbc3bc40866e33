package middleware

import (
	"net/http"

	"github.com/maltehedderich/mealplan-api/internal/logger"
)

// CorrelationID reuses a well-formed incoming X-Correlation-ID or
// generates a new one, and echoes it on the response
func CorrelationID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(logger.CorrelationHeader)
			if !logger.ValidCorrelationID(correlationID) {
				correlationID = logger.GenerateCorrelationID()
			}

			w.Header().Set(logger.CorrelationHeader, correlationID)
			ctx := logger.WithCorrelationID(r.Context(), correlationID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
