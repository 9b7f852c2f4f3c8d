package session

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// AuthenticatorCache maps (mechanism, username) to the most recently issued session
// for that identity, so a client performing an explicit login does not incur a
// catalogue handshake per call. Entries are evicted LRU once the cache reaches its
// configured size, and expire outright after the configured TTL.
type AuthenticatorCache struct {
	cache *expirable.LRU[string, Session]
}

// NewAuthenticatorCache creates a bounded, TTL-evicting authenticator cache.
func NewAuthenticatorCache(maxSize int, ttl time.Duration) *AuthenticatorCache {
	return &AuthenticatorCache{
		cache: expirable.NewLRU[string, Session](maxSize, nil, ttl),
	}
}

func authenticatorKey(mechanism, username string) string {
	return mechanism + "\x00" + username
}

// Get returns the cached session for (mechanism, username), if any.
func (c *AuthenticatorCache) Get(mechanism, username string) (Session, bool) {
	return c.cache.Get(authenticatorKey(mechanism, username))
}

// Put records the most recently issued session for (mechanism, username).
func (c *AuthenticatorCache) Put(mechanism, username string, s Session) {
	c.cache.Add(authenticatorKey(mechanism, username), s)
}

// Delete removes any cached session for (mechanism, username), used when the
// catalogue reports that session as expired.
func (c *AuthenticatorCache) Delete(mechanism, username string) {
	c.cache.Remove(authenticatorKey(mechanism, username))
}
