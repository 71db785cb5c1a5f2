package scorer

import (
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewDefaultConfig creates a config with sensible defaults
func NewDefaultConfig(apiKeys ...string) Config {
	return Config{
		APIKeys:             apiKeys,
		BaseURL:             DefaultBaseURL,
		Model:               DefaultModel,
		MaxParallelRequests: DefaultMaxParallelRequests,
		Temperature:         DefaultTemperature,
		MaxTokens:           DefaultMaxTokens,
		Timeout:             30 * time.Second,
		CacheTTL:            DefaultCacheTTL,
		EnableMetrics:       true,
	}
}

// NewProductionConfig creates a config with the circuit breaker enabled
func NewProductionConfig(apiKeys ...string) Config {
	cfg := NewDefaultConfig(apiKeys...)
	cfg.Timeout = 60 * time.Second
	return cfg.WithCircuitBreaker()
}

func defaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if 5 consecutive failures OR failure rate > 60%
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && failureRatio > 0.6)
		},
	}
}

func defaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		Strategy:     RetryStrategyExponential,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// WithCircuitBreaker enables circuit breaker with default settings
func (c Config) WithCircuitBreaker() Config {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = defaultCircuitBreakerConfig()
	return c
}

// WithCircuitBreakerConfig enables circuit breaker with custom settings
func (c Config) WithCircuitBreakerConfig(config *CircuitBreakerConfig) Config {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = config
	return c
}

// WithRetry enables retry with default exponential backoff.
// Retries reuse the credential of the failed attempt.
func (c Config) WithRetry() Config {
	c.EnableRetry = true
	c.RetryConfig = defaultRetryConfig()
	return c
}

// WithRetryConfig enables retry with custom settings
func (c Config) WithRetryConfig(config *RetryConfig) Config {
	c.EnableRetry = true
	c.RetryConfig = config
	return c
}

// WithModel sets the model name
func (c Config) WithModel(model string) Config {
	c.Model = model
	return c
}

// WithBaseURL points the client at another OpenAI-compatible endpoint
func (c Config) WithBaseURL(url string) Config {
	c.BaseURL = url
	return c
}

// WithTimeout sets the per-call timeout
func (c Config) WithTimeout(timeout time.Duration) Config {
	if timeout < 0 {
		panic("timeout must be positive")
	}
	c.Timeout = timeout
	return c
}

// WithMaxParallelRequests sets the process-wide concurrency ceiling
func (c Config) WithMaxParallelRequests(max int) Config {
	if max <= 0 {
		panic("MaxParallelRequests must be positive")
	}
	c.MaxParallelRequests = max
	return c
}

// WithRequestsPerSecond gates outgoing calls to the given rate
func (c Config) WithRequestsPerSecond(rps float64) Config {
	c.RequestsPerSecond = rps
	return c
}

// WithCacheTTL sets how long fresh scores stay cached
func (c Config) WithCacheTTL(ttl time.Duration) Config {
	c.CacheTTL = ttl
	return c
}

// WithDedup collapses concurrent misses that share a fingerprint into one call
func (c Config) WithDedup() Config {
	c.Dedup = true
	return c
}

// Validate checks if the config is valid
func (c Config) Validate() error {
	if len(c.APIKeys) == 0 {
		return &ConfigurationError{Field: "APIKeys", Err: ErrNoCredentials}
	}
	for i, key := range c.APIKeys {
		if strings.TrimSpace(key) == "" {
			return newConfigError("APIKeys", fmt.Sprintf("key %d is blank", i))
		}
	}

	if c.Model == "" {
		return newConfigError("Model", "model is required")
	}

	if c.MaxParallelRequests <= 0 {
		return newConfigError("MaxParallelRequests", "MaxParallelRequests must be positive")
	}

	if c.RequestsPerSecond < 0 {
		return newConfigError("RequestsPerSecond", "RequestsPerSecond must be non-negative")
	}

	if c.Timeout < 0 {
		return newConfigError("Timeout", "timeout must be positive")
	}

	if c.CacheTTL < 0 {
		return newConfigError("CacheTTL", "CacheTTL must be non-negative")
	}

	if c.EnableCircuitBreaker && c.CircuitBreakerConfig == nil {
		return newConfigError("CircuitBreakerConfig", "circuit breaker enabled but config is nil")
	}

	if c.EnableRetry {
		if c.RetryConfig == nil {
			return newConfigError("RetryConfig", "retry enabled but config is nil")
		}

		if !isValidRetryStrategy(c.RetryConfig.Strategy) {
			return newConfigError("RetryConfig", fmt.Sprintf("invalid retry strategy: %s", c.RetryConfig.Strategy))
		}

		if c.RetryConfig.MaxAttempts <= 0 {
			return newConfigError("RetryConfig", "retry MaxAttempts must be positive")
		}

		if c.RetryConfig.InitialDelay <= 0 {
			return newConfigError("RetryConfig", "retry InitialDelay must be positive")
		}

		if c.RetryConfig.MaxDelay <= 0 {
			return newConfigError("RetryConfig", "retry MaxDelay must be positive")
		}
	}

	return nil
}

// isValidRetryStrategy checks if the retry strategy is valid
func isValidRetryStrategy(strategy RetryStrategy) bool {
	switch strategy {
	case RetryStrategyExponential, RetryStrategyConstant, RetryStrategyFibonacci:
		return true
	default:
		return false
	}
}
