package logger

import (
	"regexp"

	"github.com/google/uuid"
)

// CorrelationHeader is the request and response header carrying the correlation ID
const CorrelationHeader = "X-Correlation-ID"

var correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9._\-]{1,128}$`)

// GenerateCorrelationID returns a new UUID v4 correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// ValidCorrelationID reports whether a client supplied ID is safe to echo and log
func ValidCorrelationID(id string) bool {
	return correlationIDPattern.MatchString(id)
}
