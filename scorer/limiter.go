package scorer

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter caps the number of API calls in flight across the process.
// One limiter is shared by every batch and every ad-hoc classification.
type ConcurrencyLimiter struct {
	sem      *semaphore.Weighted
	max      int64
	inFlight atomic.Int64
	peak     atomic.Int64
	metrics  *MetricsRecorder
}

// NewConcurrencyLimiter creates a limiter with max permits
func NewConcurrencyLimiter(max int, metrics *MetricsRecorder) (*ConcurrencyLimiter, error) {
	if max <= 0 {
		return nil, newConfigError("MaxParallelRequests", "MaxParallelRequests must be positive")
	}
	return &ConcurrencyLimiter{
		sem:     semaphore.NewWeighted(int64(max)),
		max:     int64(max),
		metrics: metrics,
	}, nil
}

// Acquire blocks until a permit is free or ctx ends.
// The returned release must be called once the call finishes; extra calls are no-ops.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) (func(), error) {
	// semaphore may hand out a free permit even when ctx is already done
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	n := l.inFlight.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	l.metrics.RecordPermitsInFlight(n)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.metrics.RecordPermitsInFlight(l.inFlight.Add(-1))
			l.sem.Release(1)
		})
	}, nil
}

// Max returns the configured ceiling
func (l *ConcurrencyLimiter) Max() int { return int(l.max) }

// InFlight returns the number of permits currently held
func (l *ConcurrencyLimiter) InFlight() int { return int(l.inFlight.Load()) }

// Peak returns the highest number of permits ever held at once
func (l *ConcurrencyLimiter) Peak() int { return int(l.peak.Load()) }
