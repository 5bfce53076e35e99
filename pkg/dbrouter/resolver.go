package dbrouter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// resolverBaseBackoff and resolverMaxBackoff bound the retry loop's
// exponential backoff: 100ms, 200ms, 400ms, capped at 1s.
const (
	resolverBaseBackoff     = 100 * time.Millisecond
	resolverMaxBackoff      = 1 * time.Second
	resolverMaxAttempts     = 3
	resolverAttemptTimeout  = 10 * time.Second
	resolverTopAccessedSize = 10

	// resolverFailureTTL is the shorter TTL applied to a template fallback
	// cached after the resolver hook exhausts its retries, so recovery is
	// probed again soon.
	resolverFailureTTL = 60 * time.Second
)

// resolver implements the Org URL Resolver: it maps an
// organization id to a connection URL, backed by a cache, a per-org circuit
// breaker, and a user-supplied resolver hook with retry/backoff, falling
// back to the template or emergency URL when the hook is unavailable or
// failing.
type resolver struct {
	cfg      *Config
	cache    OrgURLCache
	breakers *orgCircuitBreakers
	counters *resolverCounters
	ledger   *accessLedger
	log      *slog.Logger
	sf       singleflight.Group
}

func newResolver(cfg *Config, cache OrgURLCache, log *slog.Logger) *resolver {
	r := &resolver{
		cfg:      cfg,
		cache:    cache,
		counters: &resolverCounters{},
		ledger:   newAccessLedger(),
		log:      log,
	}
	r.breakers = newOrgCircuitBreakers(func(orgID string) {
		r.counters.circuitBreakerTrips.Add(1)
		r.log.Warn("org resolver circuit breaker tripped", slog.String("org_id", orgID))
	})
	return r
}

// resolve returns the connection URL for orgID: circuit check, cache probe,
// then a singleflight-collapsed resolver call with template/emergency
// fallback on a cold miss.
func (r *resolver) resolve(ctx context.Context, orgID string) (string, error) {
	if err := requireValidIdentifier(orgID, KindOrg); err != nil {
		return "", err
	}

	r.counters.totalResolves.Add(1)
	start := time.Now()
	defer func() { r.counters.recordResolveTime(time.Since(start)) }()

	r.ledger.record(orgID)

	// An open circuit short-circuits straight to the template fallback,
	// ahead of the cache probe.
	if r.breakers.isOpen(orgID) {
		r.counters.circuitBreakerTrips.Add(1)
		r.log.Warn("org resolver circuit breaker open", slog.String("org_id", orgID))
		return r.templateFallback(orgID, r.cfg.ResolverCacheTTL)
	}

	if entry, ok := r.cache.get(orgID); ok && !entry.expired(time.Now()) {
		r.counters.cacheHits.Add(1)
		entry.LastAccessed = time.Now()
		entry.AccessCount++
		r.cache.set(orgID, entry)
		r.log.Debug("org url cache hit", slog.String("org_id", orgID), slog.String("source", string(entry.Source)))
		return entry.URL, nil
	}
	r.counters.cacheMisses.Add(1)

	url, err, _ := r.sf.Do(orgID, func() (any, error) {
		return r.resolveUncached(ctx, orgID)
	})
	if err != nil {
		return "", err
	}
	return url.(string), nil
}

// resolveUncached performs the retry-with-backoff call to the resolver
// hook, and template/emergency fallback. Callers reach this only once per
// concurrent cold miss via singleflight.
func (r *resolver) resolveUncached(ctx context.Context, orgID string) (string, error) {
	if r.cfg.ResolverHook != nil {
		if url, ok := r.tryResolverHook(ctx, orgID); ok {
			r.cacheResolved(orgID, url, sourceResolver, r.cfg.ResolverCacheTTL)
			return url, nil
		}
		return r.templateFallback(orgID, resolverFailureTTL)
	}

	return r.templateFallback(orgID, r.cfg.ResolverCacheTTL)
}

// templateFallback builds the template URL, caching it with ttl under
// source=template, or degrades further to the emergency fallback when even
// the template URL fails validation.
func (r *resolver) templateFallback(orgID string, ttl time.Duration) (string, error) {
	url, err := buildURL(r.cfg.BaseURL, orgID, r.cfg.Strategy)
	if err == nil {
		r.cacheResolved(orgID, url, sourceTemplate, ttl)
		return url, nil
	}

	emergency, emergErr := buildURL(r.cfg.EmergencyURLTemplate, orgID, StrategyPerOrg)
	if emergErr != nil {
		return "", &resolverError{Err: fmt.Errorf("no usable url for org %q: %w", orgID, err)}
	}
	r.log.Error("org resolver falling back to emergency url", slog.String("org_id", orgID), slog.String("reason", err.Error()))
	r.cacheResolved(orgID, emergency, sourceEmergency, ttl)
	return emergency, nil
}

// tryResolverHook drives up to resolverMaxAttempts calls to the configured
// hook, each racing resolverAttemptTimeout, backing off 100ms/200ms/400ms
// (capped at resolverMaxBackoff) between attempts.
func (r *resolver) tryResolverHook(ctx context.Context, orgID string) (string, bool) {
	backoff := resolverBaseBackoff

	for attempt := 1; attempt <= resolverMaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, resolverAttemptTimeout)
		url, err := r.cfg.ResolverHook(attemptCtx, orgID)
		cancel()

		if err == nil && url != "" {
			r.breakers.recordSuccess(orgID)
			r.counters.resolverSuccesses.Add(1)
			return url, true
		}

		r.log.Debug("org resolver hook attempt failed",
			slog.String("org_id", orgID), slog.Int("attempt", attempt), slog.Any("error", err))

		if attempt < resolverMaxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				attempt = resolverMaxAttempts
			}
			backoff *= 2
			if backoff > resolverMaxBackoff {
				backoff = resolverMaxBackoff
			}
		}
	}

	r.breakers.recordFailure(orgID)
	r.counters.resolverFailures.Add(1)
	r.log.Error("org resolver hook exhausted retries", slog.String("org_id", orgID))
	return "", false
}

// cacheResolved stores a resolved URL with an access-count-1 entry that
// expires after ttl; a ttl of zero or less caches the entry for 24 hours.
func (r *resolver) cacheResolved(orgID, url string, src urlSource, ttl time.Duration) {
	now := time.Now()
	expires := now.Add(ttl)
	if ttl <= 0 {
		expires = now.Add(24 * time.Hour)
	}
	r.cache.set(orgID, urlCacheEntry{
		URL:          url,
		ExpiresAt:    expires,
		LastAccessed: now,
		AccessCount:  1,
		Source:       src,
	})
}

// cachedOrgIDs lists the orgs currently present in the URL cache, for
// PerOrg.listOrgs's best-effort enumeration.
func (r *resolver) cachedOrgIDs() []string {
	return r.cache.keys()
}

// metrics returns a point-in-time snapshot of resolver counters.
func (r *resolver) metrics() ResolverMetrics {
	return r.counters.snapshot(r.cache.size(), r.ledger.top(resolverTopAccessedSize))
}

// forceOpen and forceClose expose manual circuit breaker control for tests.
func (r *resolver) forceOpen(orgID string)  { r.breakers.forceOpenFor(orgID) }
func (r *resolver) forceClose(orgID string) { r.breakers.forceCloseFor(orgID) }
