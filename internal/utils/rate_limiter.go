// internal/utils/rate_limiter.go
package utils

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Throttle paces requests with a token bucket and caps how many run at
// once. A zero rate disables pacing and a zero concurrency disables the cap.
type Throttle struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// NewThrottle creates a throttle allowing requestsPerSecond with the given
// burst and at most maxConcurrent requests in flight.
func NewThrottle(requestsPerSecond float64, burst int, maxConcurrent int64) *Throttle {
	t := &Throttle{}
	if requestsPerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	if maxConcurrent > 0 {
		t.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return t
}

// Acquire blocks until a request may start. The returned function must be
// called once the request is done.
func (t *Throttle) Acquire(ctx context.Context) (func(), error) {
	if t.sem != nil {
		if err := t.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	release := func() {
		if t.sem != nil {
			t.sem.Release(1)
		}
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			release()
			return nil, err
		}
	}
	return release, nil
}
