// Package tokens caches mailbox access tokens per user, refreshing them
// through a caller-supplied refresh function. Concurrent callers for the
// same user share a single refresh; distinct users refresh independently.
package tokens

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailcrm/internal/resilience"
)

// expirySkew is subtracted from token lifetimes so a token is refreshed
// shortly before the provider would reject it.
const expirySkew = 30 * time.Second

// Token is one mailbox access token. A zero ExpiresAt means the token does
// not expire (static tokens from configuration).
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token can still be presented at the given time.
func (t Token) Valid(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(t.ExpiresAt.Add(-expirySkew))
}

// RefreshFunc obtains a fresh token for a user.
type RefreshFunc func(ctx context.Context, userID string) (Token, error)

// StaticTokens builds a RefreshFunc over a fixed userID→token map, for
// deployments where tokens are provisioned out of band in configuration.
func StaticTokens(byUser map[string]string) RefreshFunc {
	return func(_ context.Context, userID string) (Token, error) {
		tok, ok := byUser[userID]
		if !ok || tok == "" {
			return Token{}, resilience.NewConfigError(
				eris.Errorf("tokens: no access token configured for user %s", userID),
				"add the user's access_token to gmail.accounts",
			)
		}
		return Token{Value: tok}, nil
	}
}

type entry struct {
	mu  sync.Mutex
	tok Token
}

// Cache hands out valid access tokens, refreshing expired ones. Each user's
// entry has its own lock so a slow refresh for one user never blocks others.
type Cache struct {
	refresh RefreshFunc
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache creates a token cache over the given refresh function.
func NewCache(refresh RefreshFunc) *Cache {
	return &Cache{
		refresh: refresh,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

func (c *Cache) entryFor(userID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok {
		e = &entry{}
		c.entries[userID] = e
	}
	return e
}

// AccessToken returns a valid token for the user, refreshing if needed.
// Exactly one refresh runs per user at a time; concurrent callers wait for
// it and reuse its result.
func (c *Cache) AccessToken(ctx context.Context, userID string) (string, error) {
	if c.refresh == nil {
		return "", resilience.NewConfigError(
			eris.New("tokens: no refresh function configured"),
			"wire a token source before polling mailboxes",
		)
	}

	e := c.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tok.Valid(c.now()) {
		return e.tok.Value, nil
	}

	tok, err := c.refresh(ctx, userID)
	if err != nil {
		return "", eris.Wrap(err, "tokens: refresh")
	}
	if tok.Value == "" {
		return "", resilience.NewConfigError(
			eris.Errorf("tokens: refresh returned empty token for user %s", userID),
			"re-authorize the mailbox connection",
		)
	}

	zap.L().Debug("refreshed mailbox token",
		zap.String("user_id", userID),
		zap.Time("expires_at", tok.ExpiresAt),
	)
	e.tok = tok
	return tok.Value, nil
}

// Invalidate drops the cached token for a user, forcing the next
// AccessToken call to refresh. Used after the provider rejects a token.
func (c *Cache) Invalidate(userID string) {
	e := c.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tok = Token{}
}
