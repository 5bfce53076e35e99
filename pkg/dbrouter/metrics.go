package dbrouter

import (
	"sync"
	"sync/atomic"
	"time"
)

// ResolverMetrics is an atomic snapshot of the Org URL Resolver's counters,
// safe to read concurrently with ongoing resolutions. All fields are
// updated with atomic increments; averageResolveTime is a rolling average
// and therefore approximate.
type ResolverMetrics struct {
	TotalResolves      int64
	CacheHits          int64
	CacheMisses        int64
	ResolverSuccesses  int64
	ResolverFailures   int64
	AverageResolveTime time.Duration
	CircuitBreakerTrips int64
	CacheSize          int
	HitRate            float64
	TopAccessedOrgs    []OrgAccessCount
}

// OrgAccessCount pairs an org id with its observed cache access count, used
// to report the top-N most-accessed orgs.
type OrgAccessCount struct {
	OrgID       string
	AccessCount int64
}

// resolverCounters holds the live atomic counters backing ResolverMetrics.
// The rolling average resolve time is a time.Duration guarded by avgMu.
type resolverCounters struct {
	totalResolves       atomic.Int64
	cacheHits           atomic.Int64
	cacheMisses         atomic.Int64
	resolverSuccesses   atomic.Int64
	resolverFailures    atomic.Int64
	circuitBreakerTrips atomic.Int64

	avgMu          sync.Mutex
	avgResolveTime time.Duration
}

// recordResolveTime updates the rolling average: avg := 0.9*avg + 0.1*elapsed,
// step 8.
func (c *resolverCounters) recordResolveTime(elapsed time.Duration) {
	c.avgMu.Lock()
	defer c.avgMu.Unlock()
	if c.avgResolveTime == 0 {
		c.avgResolveTime = elapsed
		return
	}
	c.avgResolveTime = time.Duration(0.9*float64(c.avgResolveTime) + 0.1*float64(elapsed))
}

func (c *resolverCounters) averageResolveTime() time.Duration {
	c.avgMu.Lock()
	defer c.avgMu.Unlock()
	return c.avgResolveTime
}

func (c *resolverCounters) snapshot(cacheSize int, topAccessed []OrgAccessCount) ResolverMetrics {
	hits := c.cacheHits.Load()
	misses := c.cacheMisses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return ResolverMetrics{
		TotalResolves:       c.totalResolves.Load(),
		CacheHits:           hits,
		CacheMisses:         misses,
		ResolverSuccesses:   c.resolverSuccesses.Load(),
		ResolverFailures:    c.resolverFailures.Load(),
		AverageResolveTime:  c.averageResolveTime(),
		CircuitBreakerTrips: c.circuitBreakerTrips.Load(),
		CacheSize:           cacheSize,
		HitRate:             hitRate,
		TopAccessedOrgs:     topAccessed,
	}
}
