// Package cache provides an in-memory response cache keyed by normalized
// query text. Entries expire after a TTL and the store is bounded, evicting
// the oldest entry on insertion overflow.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/metrics"
)

// Entry is a cached gateway response.
type Entry struct {
	Response        string
	GeneratedImages []string
	Timestamp       time.Time
}

// ResponseCache maps canonical query keys to previously produced answers.
// Safe for concurrent use.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   []string // insertion order, oldest first
	max     int
	ttl     time.Duration
	now     func() time.Time
}

// NewResponseCache creates a cache holding at most max entries, each valid
// for ttl after insertion.
func NewResponseCache(max int, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]Entry),
		max:     max,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Normalize canonicalizes a query: trimmed, lowercased, internal whitespace
// runs collapsed to single spaces.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Get looks up the normalized key. Expired entries are deleted and reported
// as absent.
func (c *ResponseCache) Get(query string) (Entry, bool) {
	key := Normalize(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		metrics.RecordCacheLookup("miss")
		return Entry{}, false
	}

	if c.now().Sub(entry.Timestamp) > c.ttl {
		c.remove(key)
		metrics.CacheEvictionsTotal.WithLabelValues("expired").Inc()
		metrics.RecordCacheLookup("miss")
		return Entry{}, false
	}

	metrics.RecordCacheLookup("hit")
	return entry, true
}

// Set stores a response under the normalized key, evicting the oldest held
// entry first if the store is at capacity.
func (c *ResponseCache) Set(query, response string, generatedImages []string) {
	key := Normalize(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		oldest := c.order[0]
		c.remove(oldest)
		metrics.CacheEvictionsTotal.WithLabelValues("capacity").Inc()
	}

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = Entry{
		Response:        response,
		GeneratedImages: generatedImages,
		Timestamp:       c.now(),
	}
}

// Clear empties the store unconditionally.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
	c.order = nil
}

// Len reports the number of held entries, including not-yet-collected
// expired ones.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove deletes key from both the map and the insertion-order list.
// Caller holds the lock.
func (c *ResponseCache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
