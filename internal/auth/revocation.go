package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/maltehedderich/mealplan-api/internal/clock"
	"github.com/maltehedderich/mealplan-api/internal/config"
	"github.com/maltehedderich/mealplan-api/internal/logger"
)

const (
	revocationTimeout = 5 * time.Second
	// maxCachedSessions bounds the cache; expired entries are pruned when it fills
	maxCachedSessions = 10000
)

// RevocationChecker asks the identity provider's revocation list whether a
// session has been signed out
type RevocationChecker struct {
	url    string
	client *http.Client
	cache  *revocationCache
	logger *logger.ComponentLogger
}

// NewRevocationChecker returns nil when no revocation list is configured
func NewRevocationChecker(cfg *config.AuthorizationConfig, clk clock.Clock) *RevocationChecker {
	if cfg.RevocationListURL == "" {
		return nil
	}
	if clk == nil {
		clk = clock.System{}
	}

	var cache *revocationCache
	if cfg.RevocationListCache > 0 {
		cache = &revocationCache{
			entries: make(map[string]revocationEntry),
			ttl:     cfg.RevocationListCache,
			clock:   clk,
		}
	}

	return &RevocationChecker{
		url:    cfg.RevocationListURL,
		client: &http.Client{Timeout: revocationTimeout},
		cache:  cache,
		logger: logger.Get().WithComponent("auth.revocation"),
	}
}

// IsRevoked reports whether the session has been revoked
func (rc *RevocationChecker) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	if rc.cache != nil {
		if revoked, ok := rc.cache.get(sessionID); ok {
			return revoked, nil
		}
	}

	revoked, err := rc.fetch(ctx, sessionID)
	if err != nil {
		return false, err
	}

	if rc.cache != nil {
		rc.cache.set(sessionID, revoked)
	}
	rc.logger.Debug("revocation check completed", logger.Fields{
		"session_id": maskSessionID(sessionID),
		"revoked":    revoked,
	})
	return revoked, nil
}

func (rc *RevocationChecker) fetch(ctx context.Context, sessionID string) (bool, error) {
	u, err := url.Parse(rc.url)
	if err != nil {
		return false, fmt.Errorf("invalid revocation list URL: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := rc.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to query revocation list: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("revocation list returned status %d", resp.StatusCode)
	}

	var result struct {
		Revoked bool `json:"revoked"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode revocation response: %w", err)
	}
	return result.Revoked, nil
}

func maskSessionID(id string) string {
	if len(id) <= 8 {
		return "****"
	}
	return id[:4] + "****" + id[len(id)-4:]
}

type revocationEntry struct {
	revoked   bool
	expiresAt time.Time
}

type revocationCache struct {
	mu      sync.Mutex
	entries map[string]revocationEntry
	ttl     time.Duration
	clock   clock.Clock
}

func (c *revocationCache) get(sessionID string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[sessionID]
	if !ok {
		return false, false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.entries, sessionID)
		return false, false
	}
	return entry.revoked, true
}

func (c *revocationCache) set(sessionID string, revoked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if len(c.entries) >= maxCachedSessions {
		for id, entry := range c.entries {
			if !now.Before(entry.expiresAt) {
				delete(c.entries, id)
			}
		}
		if len(c.entries) >= maxCachedSessions {
			c.entries = make(map[string]revocationEntry)
		}
	}
	c.entries[sessionID] = revocationEntry{revoked: revoked, expiresAt: now.Add(c.ttl)}
}
