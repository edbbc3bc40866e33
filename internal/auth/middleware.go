package auth

import (
	"net/http"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/logger"
	"github.com/maltehedderich/mealplan-api/internal/metrics"
	"github.com/maltehedderich/mealplan-api/internal/middleware"
)

// Middleware authenticates requests before they reach a handler
type Middleware struct {
	extractor  *TokenExtractor
	validator  *TokenValidator
	revocation *RevocationChecker
}

// NewMiddleware creates the authentication middleware
func NewMiddleware(extractor *TokenExtractor, validator *TokenValidator) *Middleware {
	return &Middleware{extractor: extractor, validator: validator}
}

// WithRevocation makes RequireUser reject tokens whose session was revoked.
// A nil checker leaves the middleware unchanged.
func (m *Middleware) WithRevocation(rc *RevocationChecker) *Middleware {
	m.revocation = rc
	return m
}

// RequireUser rejects requests without a valid token with 401 and stores
// the caller's identity in the request context otherwise
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context(), "auth")

		token, err := m.extractor.ExtractToken(r)
		if err != nil {
			metrics.RecordAuthAttempt("failure")
			metrics.RecordAuthFailure("missing_token")
			log.Debug("request without token", logger.Fields{"path": r.URL.Path})
			w.Header().Set("WWW-Authenticate", "Bearer")
			middleware.WriteError(w, r, err)
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			reason := FailureReason(err)
			metrics.RecordAuthAttempt("failure")
			metrics.RecordAuthFailure(reason)
			log.Info("token rejected", logger.Fields{
				"path":   r.URL.Path,
				"reason": reason,
			})
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			middleware.WriteError(w, r, err)
			return
		}

		if m.revocation != nil && claims.ID != "" {
			revoked, err := m.revocation.IsRevoked(r.Context(), claims.ID)
			if err != nil {
				// The revocation list is advisory: a failed lookup lets the token through
				log.Warn("revocation check failed, allowing token", logger.Fields{
					"error": err.Error(),
				})
			} else if revoked {
				metrics.RecordAuthAttempt("failure")
				metrics.RecordAuthFailure("revoked_token")
				log.Info("token rejected", logger.Fields{
					"path":   r.URL.Path,
					"reason": "revoked_token",
				})
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				middleware.WriteError(w, r, apperror.Unauthenticated("Session has been revoked"))
				return
			}
		}

		metrics.RecordAuthAttempt("success")

		identity := &Identity{UserID: claims.Identifier(), Email: claims.Email, Claims: claims}
		ctx := WithIdentity(r.Context(), identity)
		ctx = logger.WithUserID(ctx, identity.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
