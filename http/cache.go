package http

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/aptos-x402/x402-go"
)

// DefaultVerificationTTL is how long a successful verification stays cached.
// It is short: a cached entry only needs to survive the window between a
// client's duplicate submissions, not a settlement cycle.
const DefaultVerificationTTL = 30 * time.Second

type cacheEntry struct {
	result    *x402.VerifyResponse
	expiresAt time.Time
}

// VerificationCache memoizes successful facilitator verifications keyed by
// the payment header bytes, so a re-submitted header within the TTL skips the
// facilitator round trip. Only valid results are cached; failures always go
// back to the facilitator.
//
// A background sweeper evicts expired entries; call Close to stop it.
type VerificationCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewVerificationCache creates a cache with the given TTL (DefaultVerificationTTL
// if ttl <= 0) and starts the sweep goroutine.
func NewVerificationCache(ttl time.Duration) *VerificationCache {
	if ttl <= 0 {
		ttl = DefaultVerificationTTL
	}
	c := &VerificationCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// cacheKey fingerprints the payment header so the cache never holds the raw
// signed transaction.
func cacheKey(paymentHeader string) string {
	sum := sha256.Sum256([]byte(paymentHeader))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached verification for the header, or nil if absent or
// expired.
func (c *VerificationCache) Get(paymentHeader string) *x402.VerifyResponse {
	key := cacheKey(paymentHeader)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return entry.result
}

// Put stores a verification result. Invalid results are ignored.
func (c *VerificationCache) Put(paymentHeader string, result *x402.VerifyResponse) {
	if result == nil || !result.IsValid {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(paymentHeader)] = cacheEntry{
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Len returns the number of entries currently held, expired or not.
func (c *VerificationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops all entries.
func (c *VerificationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Close stops the background sweeper. Safe to call more than once.
func (c *VerificationCache) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *VerificationCache) sweep() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
