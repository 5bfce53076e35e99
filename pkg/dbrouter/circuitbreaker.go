package dbrouter

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// circuitBreakerThreshold is the number of consecutive failures that opens
// an org's circuit breaker.
const circuitBreakerThreshold = 5

// forcedState overrides the underlying gobreaker state for manual
// open/close, exposed for tests that need to force a trip without
// generating five real failures.
type forcedState int

const (
	forceNone forcedState = iota
	forceOpen
	forceClosed
)

// orgCircuitBreakers lazily creates and holds one gobreaker.CircuitBreaker
// per organization id. gobreaker tracks consecutive failures and half-open
// recovery for us; ReadyToTrip opens the breaker at circuitBreakerThreshold
// consecutive failures. An open breaker stays open for its 30s Timeout, then
// turns half-open, and the first success in the half-open state closes it.
type orgCircuitBreakers struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	forced   map[string]forcedState
	onTrip   func(orgID string)
}

func newOrgCircuitBreakers(onTrip func(orgID string)) *orgCircuitBreakers {
	return &orgCircuitBreakers{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		forced:   make(map[string]forcedState),
		onTrip:   onTrip,
	}
}

func (o *orgCircuitBreakers) get(orgID string) *gobreaker.CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.getLocked(orgID)
}

func (o *orgCircuitBreakers) getLocked(orgID string) *gobreaker.CircuitBreaker {
	if cb, ok := o.breakers[orgID]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        "org-resolver:" + orgID,
		MaxRequests: 1,
		Interval:    time.Hour,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= circuitBreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen && o.onTrip != nil {
				o.onTrip(orgID)
			}
		},
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	o.breakers[orgID] = cb
	return cb
}

// isOpen reports whether the org's breaker currently rejects requests.
func (o *orgCircuitBreakers) isOpen(orgID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.forced[orgID] {
	case forceOpen:
		return true
	case forceClosed:
		return false
	default:
		return o.getLocked(orgID).State() == gobreaker.StateOpen
	}
}

// recordSuccess and recordFailure feed gobreaker's internal counters so its
// ReadyToTrip logic (and ours, above) stays in sync with real attempts.
func (o *orgCircuitBreakers) recordSuccess(orgID string) {
	cb := o.get(orgID)
	_, _ = cb.Execute(func() (any, error) { return nil, nil })
}

func (o *orgCircuitBreakers) recordFailure(orgID string) {
	cb := o.get(orgID)
	_, _ = cb.Execute(func() (any, error) { return nil, errCircuitProbe })
}

var errCircuitProbe = &resolverError{Err: ErrNoResolverHook}

// forceOpenFor and forceCloseFor let tests trip or reset a breaker directly
// instead of driving it through real failures.
func (o *orgCircuitBreakers) forceOpenFor(orgID string) {
	o.mu.Lock()
	o.forced[orgID] = forceOpen
	o.mu.Unlock()
	if o.onTrip != nil {
		o.onTrip(orgID)
	}
}

func (o *orgCircuitBreakers) forceCloseFor(orgID string) {
	o.mu.Lock()
	o.forced[orgID] = forceClosed
	delete(o.breakers, orgID)
	o.mu.Unlock()
}

// state returns a stable string for metrics reporting.
func (o *orgCircuitBreakers) state(orgID string) string {
	if o.isOpen(orgID) {
		return "open"
	}
	return "closed"
}
