package metrics

import (
	"math"
	"sync"
	"time"

	"dcwatch/internal/model"
)

// Cache keeps the most recent sample per metric topic. Staleness is a pure
// function of a sample's timestamp+ttl and the current time, checked on
// every fresh read; SweepExpired only reclaims memory.
type Cache struct {
	mu      sync.RWMutex
	known   map[string]model.MetricSample
	last    model.MetricSample
	hasLast bool
	now     func() uint64
}

func NewCache() *Cache {
	return &Cache{
		known: make(map[string]model.MetricSample),
		now:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetClock overrides the time source. Test hook.
func (c *Cache) SetClock(now func() uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Update inserts or replaces the entry for the sample's topic
// unconditionally, and records it as the last inserted sample. Ingestion
// order wins over sample timestamps.
func (c *Cache) Update(s model.MetricSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[s.Topic()] = s
	c.last = s
	c.hasLast = true
}

// LastInserted returns the sample most recently passed to Update.
func (c *Cache) LastInserted() (model.MetricSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.hasLast
}

// Lookup returns the last-seen value for the topic regardless of
// staleness, or NaN if the topic was never seen.
func (c *Cache) Lookup(topic string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.known[topic]
	if !ok {
		return math.NaN()
	}
	return s.Value
}

// LookupFresh returns the value for the topic only if the sample has not
// outlived its TTL; otherwise NaN. NaN means "no data", not an error.
func (c *Cache) LookupFresh(topic string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.known[topic]
	if !ok {
		return math.NaN()
	}
	if c.now() > s.Timestamp+s.TTL {
		return math.NaN()
	}
	return s.Value
}

// Sample returns the stored sample for the topic, stale or not.
func (c *Cache) Sample(topic string) (model.MetricSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.known[topic]
	return s, ok
}

// SweepExpired removes every entry whose TTL has elapsed. Lookup
// correctness never depends on it having run.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for topic, s := range c.known {
		if now > s.Timestamp+s.TTL {
			delete(c.known, topic)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.known)
}

// Snapshot returns a copy of all stored samples, for the inspection API.
func (c *Cache) Snapshot() []model.MetricSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.MetricSample, 0, len(c.known))
	for _, s := range c.known {
		out = append(out, s)
	}
	return out
}
