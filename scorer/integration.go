package scorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// Pipeline wires the rotator, limiter, client, cache and batch scorer built
// from one Config. Build it once per process and share it.
type Pipeline struct {
	rotator  *CredentialRotator
	limiter  *ConcurrencyLimiter
	client   *SentimentClient
	batch    *BatchScorer
	breakers []*CircuitBreakerWrapper
	config   Config
}

var (
	_ Scorer    = (*Pipeline)(nil)
	_ Responder = (*Pipeline)(nil)
)

// NewPipeline creates a pipeline talking to the configured OpenAI-compatible endpoint
func NewPipeline(cfg Config, cache ResultCache) (*Pipeline, error) {
	return NewPipelineWithDialer(cfg, cache, func(cred Credential) ChatClient {
		oc := openai.DefaultConfig(cred.Key)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		return openai.NewClientWithConfig(oc)
	})
}

// NewPipelineWithDialer creates a pipeline whose per-credential transport comes from dial.
// Retry and circuit breaking are layered on top of whatever dial returns.
func NewPipelineWithDialer(cfg Config, cache ResultCache, dial func(Credential) ChatClient) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metrics := NewMetricsRecorder(cfg.EnableMetrics)

	rotator, err := NewCredentialRotator(cfg.APIKeys)
	if err != nil {
		return nil, err
	}

	limiter, err := NewConcurrencyLimiter(cfg.MaxParallelRequests, metrics)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		rotator: rotator,
		limiter: limiter,
		config:  cfg,
	}

	layered := func(cred Credential) ChatClient {
		var client ChatClient = dial(cred)

		// Layer 1: retry (innermost)
		if cfg.EnableRetry {
			client = NewRetryWrapper(client, cfg.RetryConfig, metrics)
		}

		// Layer 2: circuit breaker (wraps retry)
		if cfg.EnableCircuitBreaker {
			cb := NewCircuitBreakerWrapper(fmt.Sprintf("sentiment-api-%d", cred.Index), client, cfg.CircuitBreakerConfig, metrics)
			p.breakers = append(p.breakers, cb)
			client = cb
		}
		return client
	}

	p.client, err = NewSentimentClient(rotator, limiter, layered,
		WithClientModel(cfg.Model),
		WithCallTimeout(cfg.Timeout),
		WithRateLimit(cfg.RequestsPerSecond, cfg.MaxParallelRequests),
		WithClientMetrics(metrics),
		func(c *SentimentClient) {
			c.temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				c.maxTokens = cfg.MaxTokens
			}
		},
	)
	if err != nil {
		return nil, err
	}

	p.batch = NewBatchScorer(cache, p.client,
		WithTTL(cfg.CacheTTL),
		WithDedup(cfg.Dedup),
		WithBatchMetrics(metrics),
	)

	slog.Info("Sentiment pipeline created",
		"model", cfg.Model,
		"base_url", cfg.BaseURL,
		"credentials", rotator.Len(),
		"max_parallel_requests", cfg.MaxParallelRequests,
		"requests_per_second", cfg.RequestsPerSecond,
		"circuit_breaker", cfg.EnableCircuitBreaker,
		"retry", cfg.EnableRetry,
		"dedup", cfg.Dedup)

	return p, nil
}

// ScoreBatch implements Scorer
func (p *Pipeline) ScoreBatch(ctx context.Context, requests []ScoreRequest) (*BatchResult, error) {
	return p.batch.ScoreBatch(ctx, requests)
}

// Classify implements Scorer; it bypasses the cache
func (p *Pipeline) Classify(ctx context.Context, text string) (int, error) {
	return p.client.Classify(ctx, text)
}

// ScoreText scores one text through the cache
func (p *Pipeline) ScoreText(ctx context.Context, text string) (ScoreResult, error) {
	return p.batch.ScoreText(ctx, text)
}

// GenerateReply implements Responder
func (p *Pipeline) GenerateReply(ctx context.Context, body string) (string, error) {
	return p.client.GenerateReply(ctx, body)
}

// Limiter exposes the shared concurrency limiter
func (p *Pipeline) Limiter() *ConcurrencyLimiter {
	return p.limiter
}

// GetHealth reports limiter occupancy and the state of every breaker.
// The pipeline is unhealthy only when every credential's breaker is open.
func (p *Pipeline) GetHealth(_ context.Context) HealthStatus {
	details := map[string]interface{}{
		"model":                 p.config.Model,
		"credentials":           p.rotator.Len(),
		"max_parallel_requests": p.limiter.Max(),
		"permits_in_flight":     p.limiter.InFlight(),
		"permits_peak":          p.limiter.Peak(),
		"circuit_breaker":       p.config.EnableCircuitBreaker,
		"retry":                 p.config.EnableRetry,
	}

	open := 0
	breakers := make(map[string]interface{}, len(p.breakers))
	for _, cb := range p.breakers {
		h := cb.GetHealth()
		breakers[cb.Name()] = h.Details
		if cb.State() == gobreaker.StateOpen {
			open++
		}
	}
	if len(breakers) > 0 {
		details["circuit_breakers"] = breakers
	}

	switch {
	case len(p.breakers) > 0 && open == len(p.breakers):
		return HealthStatus{Healthy: false, Status: "all circuits open", Details: details}
	case open > 0:
		return HealthStatus{Healthy: true, Status: fmt.Sprintf("degraded (%d of %d circuits open)", open, len(p.breakers)), Details: details}
	default:
		return HealthStatus{Healthy: true, Status: "ok", Details: details}
	}
}

// classifyError returns error type for metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return "rate_limit"
		case apiErr.HTTPStatusCode >= 500:
			return "server_error"
		case apiErr.HTTPStatusCode >= 400:
			return "client_error"
		default:
			return "api_error"
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, gobreaker.ErrOpenState):
		return "circuit_open"
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_half_open"
	case errors.Is(err, ErrNoScore), errors.Is(err, ErrEmptyResponse):
		return "parse_error"
	case IsConfigurationError(err):
		return "configuration"
	}

	return "unknown"
}
