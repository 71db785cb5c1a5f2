// Package scorer scores the sentiment of text with an OpenAI-compatible chat
// completion API (Groq by default) and caches the result by content.
//
// Features:
//   - Batch scoring with a cache-first pass; misses are classified concurrently
//   - A process-wide ceiling on in-flight API calls shared by every batch
//   - Round-robin rotation across several API keys
//   - Redis-backed or in-memory result cache keyed by a versioned SHA-256 fingerprint
//   - Circuit breaker per API key and optional retry with backoff
//   - Prometheus metrics
//
// Cache failures never fail a batch: read errors count as misses and write
// errors are logged. A failed classification only drops its own item.
//
// Basic usage:
//
//	cfg := scorer.NewDefaultConfig(os.Getenv("GROQ_API_KEY"))
//	p, err := scorer.NewPipeline(cfg, scorer.NewMemoryCache())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := p.ScoreBatch(ctx, []scorer.ScoreRequest{{ID: "1", Content: "great service"}})
package scorer
