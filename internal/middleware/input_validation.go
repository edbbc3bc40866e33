package middleware

import (
	"net/http"
	"strings"

	"github.com/maltehedderich/mealplan-api/internal/config"
	"github.com/maltehedderich/mealplan-api/internal/logger"
)

// InputValidation rejects disallowed methods and oversized paths, and caps
// the request body at MaxRequestBodySize
func InputValidation(cfg *config.SecurityConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context(), "middleware.input_validation")

			if len(cfg.AllowedMethods) > 0 && !isMethodAllowed(r.Method, cfg.AllowedMethods) {
				log.Warn("method not allowed", logger.Fields{"method": r.Method, "path": r.URL.Path})
				w.Header().Set("Allow", strings.Join(cfg.AllowedMethods, ", "))
				writeStatus(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}

			if cfg.MaxURLPathLength > 0 && len(r.URL.Path) > cfg.MaxURLPathLength {
				log.Warn("URL path too long", logger.Fields{
					"path_length": len(r.URL.Path),
					"max_length":  cfg.MaxURLPathLength,
				})
				writeStatus(w, http.StatusRequestURITooLong, "Request URI too long")
				return
			}

			if cfg.MaxRequestBodySize > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxRequestBodySize)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isMethodAllowed(method string, allowedMethods []string) bool {
	for _, allowed := range allowedMethods {
		if strings.EqualFold(allowed, method) {
			return true
		}
	}
	return false
}
