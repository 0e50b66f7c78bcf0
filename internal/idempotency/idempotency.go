// Package idempotency implements the Idempotency-Key replay cache: a
// short-TTL LRU keyed by the idempotency key plus the request's admission
// fingerprint, so a stored result only replays for the identical request.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is what gets cached and later replayed verbatim.
type Entry struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// Cache is the expirable LRU wrapper.
type Cache struct {
	lru *lru.LRU[string, Entry]
}

// New builds a cache holding up to size entries, each expiring after ttl.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{lru: lru.NewLRU[string, Entry](size, nil, ttl)}
}

// Key derives the cache key from the client-supplied idempotency key and
// the request's admission fingerprint, so replay only fires for requests
// that are actually identical, not merely sharing an idempotency key by
// coincidence.
func Key(idempotencyKey, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(idempotencyKey))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached entry for key, if present and unexpired.
func (c *Cache) Get(key string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	return c.lru.Get(key)
}

// Put stores entry under key, resetting its TTL.
func (c *Cache) Put(key string, entry Entry) {
	if c == nil {
		return
	}
	c.lru.Add(key, entry)
}
