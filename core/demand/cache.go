package demand

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BucketKey identifies the simulated calendar hour t falls into.
func BucketKey(t time.Time) string { return t.Format("2006010215") }

type bucket struct {
	affluence int
	remaining int
}

// Cache memoises oracle answers per hour bucket for the whole run. Entries
// are never removed.
type Cache struct {
	oracle Oracle

	mu      sync.Mutex
	buckets map[string]*bucket
	calls   int
}

func NewCache(o Oracle) *Cache {
	return &Cache{oracle: o, buckets: make(map[string]*bucket)}
}

// Resolve returns the bucket key of t and the affluence still to dispatch in
// it. The oracle is queried only the first time a bucket is seen; a failed
// query leaves the bucket unresolved. Negative answers count as zero.
func (c *Cache) Resolve(ctx context.Context, t time.Time) (string, int, error) {
	key := BucketKey(t)
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.buckets[key]; ok {
		return key, b.remaining, nil
	}
	c.calls++
	n, err := c.oracle.Affluence(ctx, t.Hour())
	if err != nil {
		return key, 0, fmt.Errorf("affluence for %s: %w", key, err)
	}
	if n < 0 {
		n = 0
	}
	c.buckets[key] = &bucket{affluence: n, remaining: n}
	return key, n, nil
}

// Take consumes one unit of the bucket's remaining affluence and returns what
// is left. It never goes below zero.
func (c *Cache) Take(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[key]
	if !ok {
		return 0
	}
	if b.remaining > 0 {
		b.remaining--
	}
	return b.remaining
}

// Affluence returns the value the oracle gave for the bucket.
func (c *Cache) Affluence(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.buckets[key]; ok {
		return b.affluence
	}
	return 0
}

// Calls counts oracle queries, failed ones included.
func (c *Cache) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Len is the number of resolved buckets.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets)
}
