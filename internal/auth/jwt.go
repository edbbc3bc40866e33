package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maltehedderich/mealplan-api/internal/apperror"
	"github.com/maltehedderich/mealplan-api/internal/clock"
	"github.com/maltehedderich/mealplan-api/internal/config"
	"github.com/maltehedderich/mealplan-api/internal/logger"
)

// Claims are the identity provider claims the service reads
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Identifier returns the stable user ID: the subject, or user_id for
// providers that put it there
func (c *Claims) Identifier() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// TokenValidator verifies identity provider tokens
type TokenValidator struct {
	parser *jwt.Parser
	key    interface{}
	logger *logger.ComponentLogger
}

// NewTokenValidator loads the verification key and builds a parser that
// enforces the configured algorithm, issuer, audience and clock skew
func NewTokenValidator(cfg *config.AuthorizationConfig, clk clock.Clock) (*TokenValidator, error) {
	if clk == nil {
		clk = clock.System{}
	}

	key, err := loadKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{cfg.JWTSigningAlgorithm}),
		jwt.WithLeeway(cfg.ClockSkewTolerance),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clk.Now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	tv := &TokenValidator{
		parser: jwt.NewParser(opts...),
		key:    key,
		logger: logger.Get().WithComponent("auth.validator"),
	}
	tv.logger.Info("token validator initialized", logger.Fields{
		"algorithm": cfg.JWTSigningAlgorithm,
		"issuer":    cfg.Issuer,
	})
	return tv, nil
}

func loadKey(cfg *config.AuthorizationConfig) (interface{}, error) {
	switch {
	case strings.HasPrefix(cfg.JWTSigningAlgorithm, "HS"):
		if cfg.JWTSharedSecret == "" {
			return nil, fmt.Errorf("HS* algorithm requires shared secret")
		}
		return []byte(cfg.JWTSharedSecret), nil
	case strings.HasPrefix(cfg.JWTSigningAlgorithm, "RS"):
		if cfg.JWTPublicKeyFile == "" {
			return nil, fmt.Errorf("RS* algorithm requires public key file")
		}
		return loadRSAPublicKey(cfg.JWTPublicKeyFile)
	}
	return nil, fmt.Errorf("unsupported algorithm: %s", cfg.JWTSigningAlgorithm)
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		rsaKey, pkcs1Err := x509.ParsePKCS1PublicKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return rsaKey, nil
	}

	rsaKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaKey, nil
}

// ValidateToken verifies the token and returns its claims. Failures are
// Unauthenticated errors; FailureReason classifies them for metrics.
func (tv *TokenValidator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := tv.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return tv.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.Wrap(apperror.KindUnauthenticated, "Session expired", err)
		}
		return nil, apperror.Wrap(apperror.KindUnauthenticated, "Invalid authentication token", err)
	}

	if claims.Identifier() == "" {
		return nil, apperror.Wrap(apperror.KindUnauthenticated, "Invalid authentication token",
			errors.New("token carries no subject"))
	}
	return claims, nil
}

// FailureReason maps a validation error to a metrics label
func FailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired_token"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed_token"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid_signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "wrong_audience"
	}
	return "invalid_token"
}
