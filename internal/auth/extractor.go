package auth

import (
	"net/http"
	"strings"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
)

// TokenExtractor pulls the identity provider token from a request
type TokenExtractor struct {
	cookieName string
}

// NewTokenExtractor creates an extractor that falls back to cookieName
// when no Authorization header is present. An empty cookieName disables
// the cookie lookup.
func NewTokenExtractor(cookieName string) *TokenExtractor {
	return &TokenExtractor{cookieName: cookieName}
}

// ExtractToken returns the bearer token of the request
func (te *TokenExtractor) ExtractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", apperror.Unauthenticated("Malformed authorization header")
		}
		return strings.TrimSpace(token), nil
	}

	if te.cookieName != "" {
		if cookie, err := r.Cookie(te.cookieName); err == nil && cookie.Value != "" {
			return cookie.Value, nil
		}
	}

	return "", apperror.Unauthenticated("Authentication required")
}
