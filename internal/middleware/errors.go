package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/logger"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error        string `json:"error"`
	RetryAfterMS *int64 `json:"retry_after_ms,omitempty"`
}

// WriteError maps err to its status code and writes {"error": message}.
// Rate limit rejections also get Retry-After and X-RateLimit-* headers.
// Internal causes are logged, never written.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.HTTPStatus(err)
	resp := ErrorResponse{Error: apperror.PublicMessage(err)}

	if appErr, ok := apperror.As(err); ok && appErr.Kind == apperror.KindRateLimited {
		ms := appErr.RetryAfter.Milliseconds()
		resp.RetryAfterMS = &ms
		if appErr.RetryAfter > 0 {
			seconds := int64(math.Ceil(appErr.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(appErr.Limit))
		w.Header().Set("X-RateLimit-Remaining", "0")
	}

	log := logger.FromContext(r.Context(), "http")
	switch {
	case status >= http.StatusInternalServerError:
		log.Error("request failed", logger.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"kind":   string(apperror.KindOf(err)),
			"error":  err.Error(),
		})
	case status == apperror.StatusClientClosedRequest:
		log.Info("client closed request", logger.Fields{"path": r.URL.Path})
	}

	WriteJSON(w, status, resp)
}

// WriteJSON writes v as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Get().WithComponent("http").Debug("failed to encode response", logger.Fields{
			"error": err.Error(),
		})
	}
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}
