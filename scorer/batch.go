package scorer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// BatchScorer resolves a batch of requests against the result cache and
// sends the misses to the classifier concurrently. The classifier's limiter
// bounds how many of those calls are in flight.
type BatchScorer struct {
	cache      ResultCache
	classifier Classifier
	ttl        time.Duration
	dedup      bool
	flight     singleflight.Group
	metrics    *MetricsRecorder
}

// BatchOption configures a BatchScorer
type BatchOption func(*BatchScorer)

// WithTTL sets the lifetime of scores written back to the cache
func WithTTL(ttl time.Duration) BatchOption {
	return func(b *BatchScorer) { b.ttl = ttl }
}

// WithDedup shares one in-flight API call between misses with equal content
func WithDedup(enabled bool) BatchOption {
	return func(b *BatchScorer) { b.dedup = enabled }
}

// WithBatchMetrics attaches a metrics recorder
func WithBatchMetrics(m *MetricsRecorder) BatchOption {
	return func(b *BatchScorer) { b.metrics = m }
}

// NewBatchScorer creates a BatchScorer
func NewBatchScorer(cache ResultCache, classifier Classifier, opts ...BatchOption) *BatchScorer {
	b := &BatchScorer{
		cache:      cache,
		classifier: classifier,
		ttl:        DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type miss struct {
	req ScoreRequest
	key CacheKey
}

type missOutcome struct {
	result ScoreResult
	err    error
}

// ScoreBatch returns one result per request it could score and one failure
// per request it could not. It returns only after every dispatched call has
// finished. A non-nil error means the batch itself was rejected or cancelled;
// a cancelled batch still returns what it resolved.
func (b *BatchScorer) ScoreBatch(ctx context.Context, requests []ScoreRequest) (*BatchResult, error) {
	if err := ValidateRequests(requests); err != nil {
		return nil, err
	}

	b.metrics.RecordBatchSize(len(requests))
	out := &BatchResult{Results: make([]ScoreResult, 0, len(requests))}

	misses := make([]miss, 0, len(requests))
	for _, req := range requests {
		key := Fingerprint(req.Content)
		score, ok := b.lookup(ctx, req.ID, key)
		if ok {
			out.Results = append(out.Results, ScoreResult{ID: req.ID, Score: score, Origin: OriginCache})
			continue
		}
		misses = append(misses, miss{req: req, key: key})
	}
	hits := len(out.Results)
	b.metrics.RecordItemsScored(OriginCache, hits)

	// Each slot is written by exactly one goroutine
	outcomes := make([]missOutcome, len(misses))
	var wg sync.WaitGroup
	for i, m := range misses {
		wg.Add(1)
		go func(i int, m miss) {
			defer wg.Done()
			outcomes[i] = b.resolve(ctx, m)
		}(i, m)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.err != nil {
			out.Failures = append(out.Failures, ItemFailure{ID: o.result.ID, Err: o.err})
			continue
		}
		out.Results = append(out.Results, o.result)
	}
	b.metrics.RecordItemsScored(OriginFresh, len(out.Results)-hits)
	b.metrics.RecordItemsFailed(len(out.Failures))

	slog.Info("Batch scoring completed",
		"batch_size", len(requests),
		"cache_hits", hits,
		"fresh", len(out.Results)-hits,
		"failed", len(out.Failures))

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// lookup treats every cache read failure as a miss
func (b *BatchScorer) lookup(ctx context.Context, id string, key CacheKey) (int, bool) {
	if b.cache == nil {
		return 0, false
	}

	score, ok, err := b.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "Cache read failed, treating as miss",
			"id", id,
			"error", err)
		b.metrics.RecordCacheLookup("error")
		return 0, false
	}
	if !ok {
		b.metrics.RecordCacheLookup("miss")
		return 0, false
	}

	slog.Debug("Cache hit", "id", id)
	b.metrics.RecordCacheLookup("hit")
	return score, true
}

func (b *BatchScorer) resolve(ctx context.Context, m miss) missOutcome {
	score, err := b.classify(ctx, m)
	if err != nil {
		slog.WarnContext(ctx, "Scoring failed for item",
			"id", m.req.ID,
			"error", err)
		return missOutcome{result: ScoreResult{ID: m.req.ID}, err: err}
	}
	return missOutcome{result: ScoreResult{ID: m.req.ID, Score: score, Origin: OriginFresh}}
}

// classify scores one miss and writes a fresh score back to the cache
func (b *BatchScorer) classify(ctx context.Context, m miss) (int, error) {
	if !b.dedup {
		score, err := b.classifier.Classify(ctx, m.req.Content)
		if err != nil {
			return 0, err
		}
		b.store(ctx, m.key, score)
		return score, nil
	}

	// The shared call is detached from every caller's cancellation. A caller
	// whose context ends stops waiting; the call carries on for the others
	// and still fills the cache. The client's call timeout bounds it.
	ch := b.flight.DoChan(string(m.key), func() (interface{}, error) {
		detached := context.WithoutCancel(ctx)
		score, err := b.classifier.Classify(detached, m.req.Content)
		if err != nil {
			return 0, err
		}
		b.store(detached, m.key, score)
		return score, nil
	})

	select {
	case r := <-ch:
		if r.Shared {
			slog.Debug("Shared in-flight classification", "id", m.req.ID)
		}
		if r.Err != nil {
			return 0, r.Err
		}
		return r.Val.(int), nil
	case <-ctx.Done():
		return 0, &ClassificationError{Reason: "cancelled while waiting for shared classification", Err: ctx.Err()}
	}
}

// store writes a fresh score back; failures are logged and dropped
func (b *BatchScorer) store(ctx context.Context, key CacheKey, score int) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Put(ctx, key, score, b.ttl); err != nil {
		var we *CacheWriteError
		if !errors.As(err, &we) {
			err = &CacheWriteError{Key: key, Err: err}
		}
		slog.WarnContext(ctx, "Cache write failed, ignoring", "error", err)
		b.metrics.RecordCacheWriteError()
	}
}

// ScoreText scores a single text, reading and filling the cache
func (b *BatchScorer) ScoreText(ctx context.Context, text string) (ScoreResult, error) {
	key := Fingerprint(text)
	if score, ok := b.lookup(ctx, "", key); ok {
		return ScoreResult{Score: score, Origin: OriginCache}, nil
	}

	score, err := b.classify(ctx, miss{req: ScoreRequest{Content: text}, key: key})
	if err != nil {
		return ScoreResult{}, err
	}
	return ScoreResult{Score: score, Origin: OriginFresh}, nil
}

// Classify scores text straight through the classifier, skipping the cache
func (b *BatchScorer) Classify(ctx context.Context, text string) (int, error) {
	return b.classifier.Classify(ctx, text)
}
