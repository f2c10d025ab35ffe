// Package cache implements the Decision Engine's pattern-fingerprint
// cache: a bounded LRU with lazy TTL expiration, so that the decision
// for one risk pattern is reused across any actor exhibiting it.
// Entries carry an expiry timestamp on top of golang-lru's O(1)
// capacity-bounded eviction; expiration is lazy, on access.
package cache

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/redwing-381/moment/internal/models"
)

// Config controls cache sizing.
type Config struct {
	MaxSize    int
	TTLSeconds int
}

// DefaultConfig returns the defaults: 1000 entries, 300s TTL.
func DefaultConfig() Config {
	return Config{MaxSize: 1000, TTLSeconds: 300}
}

type entry struct {
	result    models.DecisionResult
	expiresAt time.Time
}

// Cache is a fingerprint-keyed LRU+TTL store of DecisionResults. It is
// safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, *entry]
	ttl     time.Duration
	hits    int64
	misses  int64
	nowFunc func() time.Time
}

// New constructs a Cache from Config.
func New(cfg Config) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.TTLSeconds <= 0 {
		cfg.TTLSeconds = 300
	}
	l, err := lru.New[string, *entry](cfg.MaxSize)
	if err != nil {
		// Only possible when MaxSize <= 0, already guarded above.
		panic(err)
	}
	return &Cache{
		lru:     l,
		ttl:     time.Duration(cfg.TTLSeconds) * time.Second,
		nowFunc: time.Now,
	}
}

// Fingerprint hashes the policy-relevant subset of a signal: action,
// role, the score rounded to one decimal (risk_bucket), the sorted
// risk factors, geo_change, and resource_sensitivity. Actor identity is
// deliberately excluded.
func Fingerprint(action, role string, score float64, factors []string, geoChange bool, sensitivity models.Sensitivity) string {
	bucket := float64(int(score*10+0.5)) / 10

	sorted := make([]string, len(factors))
	copy(sorted, factors)
	sort.Strings(sorted)

	h := xxhash.New()
	_, _ = h.WriteString(action)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(role)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(formatBucket(bucket))
	_, _ = h.WriteString("\x00")
	for _, f := range sorted {
		_, _ = h.WriteString(f)
		_, _ = h.WriteString(",")
	}
	_, _ = h.WriteString("\x00")
	if geoChange {
		_, _ = h.WriteString("1")
	} else {
		_, _ = h.WriteString("0")
	}
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(string(sensitivity))

	return hexSum(h.Sum64())
}

// Get looks up a fingerprint. On a TTL-expired hit it deletes the entry
// and reports a miss. A live hit rebinds correlationID/actorID to the
// caller's current signal and tags source=cache; the rebind happens
// here rather than at the engine call site so callers never see the
// un-rebound value.
func (c *Cache) Get(fingerprint, correlationID, actorID string) (models.DecisionResult, bool) {
	c.mu.Lock()
	e, ok := c.lru.Get(fingerprint)
	if !ok {
		c.misses++
		c.mu.Unlock()
		return models.DecisionResult{}, false
	}
	if c.nowFunc().After(e.expiresAt) {
		c.lru.Remove(fingerprint)
		c.misses++
		c.mu.Unlock()
		return models.DecisionResult{}, false
	}
	c.hits++
	c.mu.Unlock()

	result := e.result
	result.Source = models.SourceCache
	result.LatencyMS = 0.1
	result.CorrelationID = correlationID
	result.ActorID = actorID
	result.Provisional = false
	return result, true
}

// Put inserts or replaces the entry for fingerprint, promoting it to
// most-recently-used. Callers MUST NOT call Put for a result whose
// source is a parse-failure safe default (see internal/decision), so
// that cache never poisons on AI response parse failures.
func (c *Cache) Put(fingerprint string, result models.DecisionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(fingerprint, &entry{
		result:    result,
		expiresAt: c.nowFunc().Add(c.ttl),
	})
}

// Size returns the current number of entries (which never exceeds the
// configured MaxSize).
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats is a snapshot of cache hit/miss counters.
type Stats struct {
	Hits       int64
	Misses     int64
	Size       int
	HitRatePct float64
}

// Stats returns a consistent snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return Stats{Hits: c.hits, Misses: c.misses, Size: c.lru.Len(), HitRatePct: rate}
}

func formatBucket(b float64) string {
	// one decimal place is sufficient for a 0.0-1.0 bucket value
	return strconv.Itoa(int(b*10 + 0.5))
}

func hexSum(v uint64) string {
	return strconv.FormatUint(v, 16)
}
