// Package counts holds the small set of shared, concurrently-mutated
// tallies that every component making a request or a selection decision
// must observe or update under a consistent lock discipline (spec §4.6,
// §5). A single *Counts is constructed once by main and shared by pointer
// with the client, selector, and executor packages.
package counts

import (
	"sync"
	"time"
)

// Counts coordinates two mutable counters and one timestamp:
//
//   - RemainingRequests: the registry's per-minute request budget left in
//     this run. Monotonically non-increasing; every successful HTTP request
//     decrements it by exactly one (spec §3 invariant).
//   - PackageVersions: cumulative count of package-versions added to a
//     to-delete set during the per-version filter (spec §4.4 Step B).
//
// RateLimitReset is seeded by New from the initial fetch_rate_limit call
// (SetRateLimitReset can replace it) and read by the deletion executor
// when it has to warn about budget exhaustion.
type Counts struct {
	mu                sync.RWMutex
	remainingRequests uint64
	rateLimitReset    time.Time
	packageVersions   uint64
}

// New creates a Counts seeded with the rate-limit probe's initial values.
func New(remainingRequests uint64, rateLimitReset time.Time) *Counts {
	return &Counts{
		remainingRequests: remainingRequests,
		rateLimitReset:    rateLimitReset,
	}
}

// RemainingRequests returns the current remaining-request budget.
func (c *Counts) RemainingRequests() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remainingRequests
}

// RateLimitReset returns when the current rate-limit window resets.
func (c *Counts) RateLimitReset() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimitReset
}

// PackageVersions returns the cumulative count of versions selected for
// deletion so far.
func (c *Counts) PackageVersions() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.packageVersions
}

// DecrementRemaining records that a request was made, decrementing the
// remaining-request budget by exactly one. Called by the client after
// every successful HTTP round trip, per spec §3's invariant.
func (c *Counts) DecrementRemaining() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remainingRequests > 0 {
		c.remainingRequests--
	}
}

// AddPackageVersions increments the package-versions tally by n. Called by
// the version selector each time a version is added to a package's
// to-delete set.
func (c *Counts) AddPackageVersions(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packageVersions += n
}

// SetRateLimitReset updates the reset timestamp, e.g. after a later
// fetch_rate_limit probe.
func (c *Counts) SetRateLimitReset(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimitReset = t
}

// WouldExceedBudget reports whether the running package-versions tally plus
// offset would exceed the remaining-request budget — the short-circuit
// condition pagination checks in spec §4.4's "short-circuit on budget
// pressure."
func (c *Counts) WouldExceedBudget(offset uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.packageVersions+offset > c.remainingRequests
}

// Snapshot atomically reads both counters and the reset time together,
// for callers (the deletion executor) that need a consistent view before
// allocating a budget.
type Snapshot struct {
	RemainingRequests uint64
	RateLimitReset    time.Time
	PackageVersions   uint64
}

// Snapshot returns a consistent snapshot of all three fields.
func (c *Counts) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		RemainingRequests: c.remainingRequests,
		RateLimitReset:    c.rateLimitReset,
		PackageVersions:   c.packageVersions,
	}
}
