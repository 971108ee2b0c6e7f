// Package ratelimit implements the registry client's per-endpoint request
// governor (spec §4.1 "Rate limiting"). Each of the four GitHub endpoints
// the client calls — list-packages, list-versions, fetch-package,
// delete-versions — gets its own Service: a concurrency cap of 100
// in-flight requests, plus a per-minute request-cost budget of
// 900/costPerRequest (GET costs 1 point, DELETE costs 5).
//
// The Service is not a semaphore over the global remaining-requests count
// (that's counts.Counts, consulted separately); it only throttles how fast
// this process is allowed to hit one endpoint.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// maxInFlight is the hard concurrency cap per endpoint.
	maxInFlight = 100
	// pointBudgetPerMinute is the registry's overall per-minute point
	// budget; each service's request capacity is this divided by its
	// per-request point cost.
	pointBudgetPerMinute = 900

	// CostGet is the point cost of a GET request.
	CostGet = 1
	// CostDelete is the point cost of a DELETE request.
	CostDelete = 5
)

// Service governs requests to a single rate-limited endpoint.
type Service struct {
	name     string
	capacity int // requests allowed per one-minute window
	sem      *semaphore.Weighted

	mu          sync.Mutex
	windowStart time.Time
	used        int
}

// NewService creates a Service for an endpoint that costs costPerRequest
// points per call.
func NewService(name string, costPerRequest int) *Service {
	return &Service{
		name:        name,
		capacity:    pointBudgetPerMinute / costPerRequest,
		sem:         semaphore.NewWeighted(maxInFlight),
		windowStart: time.Now(),
	}
}

// Name returns the endpoint name this service governs, for logging.
func (s *Service) Name() string { return s.name }

// Acquire blocks until both a concurrency slot and a per-minute budget
// point are available, then returns a release function that must be
// called once the in-flight request completes (success or failure) to
// free its concurrency slot. The budget point is not freed by Release —
// it is only replenished when the per-minute window rolls over.
func (s *Service) Acquire(ctx context.Context) (release func(), err error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("ratelimit: acquire %s concurrency slot: %w", s.name, err)
	}

	if err := s.acquireBudget(ctx); err != nil {
		s.sem.Release(1)
		return nil, err
	}

	return func() { s.sem.Release(1) }, nil
}

func (s *Service) acquireBudget(ctx context.Context) error {
	for {
		wait, ok := s.tryTake()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ratelimit: wait for %s budget: %w", s.name, ctx.Err())
		case <-timer.C:
		}
	}
}

// tryTake attempts to consume one budget point. It returns (0, true) on
// success, or (wait, false) with the duration to sleep before retrying.
func (s *Service) tryTake() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.windowStart) >= time.Minute {
		s.windowStart = now
		s.used = 0
	}

	if s.used < s.capacity {
		s.used++
		return 0, true
	}

	wait := time.Until(s.windowStart.Add(time.Minute))
	if wait < 0 {
		wait = 0
	}
	return wait, false
}
