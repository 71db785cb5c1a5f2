package scorer

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// ScoreRequest is a single text waiting for a sentiment score
type ScoreRequest struct {
	ID      string // Unique identifier of the item within a batch
	Content string // The text to classify
}

// Origin tells where a score came from
type Origin string

const (
	OriginCache Origin = "cache" // Served from the result cache
	OriginFresh Origin = "fresh" // Computed by the sentiment API
)

// ScoreResult is the resolved score for one ScoreRequest
type ScoreResult struct {
	ID     string // Matches ScoreRequest.ID
	Score  int    // Score between 1-100
	Origin Origin // Cache hit or freshly computed
}

// ItemFailure records why a single request in a batch has no result
type ItemFailure struct {
	ID  string
	Err error
}

// BatchResult holds everything a batch managed to score plus what it could not
type BatchResult struct {
	Results  []ScoreResult
	Failures []ItemFailure
}

// FailedIDs returns the identities that could not be scored
func (r *BatchResult) FailedIDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.ID)
	}
	return ids
}

// Err joins the per-item failures, or returns nil when every item was scored
func (r *BatchResult) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

// Scores returns the results keyed by identity
func (r *BatchResult) Scores() map[string]int {
	if r == nil {
		return nil
	}
	out := make(map[string]int, len(r.Results))
	for _, res := range r.Results {
		out[res.ID] = res.Score
	}
	return out
}

// Classifier turns a single text into a score
type Classifier interface {
	Classify(ctx context.Context, text string) (int, error)
}

// Scorer is the entry point consumed by request-handling code
type Scorer interface {
	Classifier

	// ScoreBatch scores every request, consulting the cache first
	ScoreBatch(ctx context.Context, requests []ScoreRequest) (*BatchResult, error)

	// GetHealth returns the current health status of the scorer
	GetHealth(ctx context.Context) HealthStatus
}

// Responder drafts a reply to an email body
type Responder interface {
	GenerateReply(ctx context.Context, body string) (string, error)
}

// HealthStatus represents the health state of the scorer
type HealthStatus struct {
	Healthy bool                   // Overall health status
	Status  string                 // Human-readable status message
	Details map[string]interface{} // Additional health details
}

// ChatClient is the slice of the OpenAI-compatible API the scorer needs
type ChatClient interface {
	CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds the configuration for the scoring pipeline
type Config struct {
	APIKeys              []string              // Credentials rotated round-robin (required)
	BaseURL              string                // OpenAI-compatible endpoint
	Model                string                // Model name passed to the endpoint
	MaxParallelRequests  int                   // Process-wide ceiling on in-flight API calls
	RequestsPerSecond    float64               // Optional request rate gate (0 = off)
	Temperature          float32               // Sampling temperature
	MaxTokens            int                   // Reply length cap
	Timeout              time.Duration         // Per-call timeout (0 = none)
	CacheTTL             time.Duration         // Lifetime of cached scores
	Dedup                bool                  // Collapse concurrent misses with equal content
	EnableMetrics        bool                  // Record Prometheus metrics
	EnableCircuitBreaker bool                  // Enable circuit breaker per credential
	EnableRetry          bool                  // Enable retry with backoff
	CircuitBreakerConfig *CircuitBreakerConfig // Circuit breaker configuration
	RetryConfig          *RetryConfig          // Retry configuration
}

// CircuitBreakerConfig holds circuit breaker settings
type CircuitBreakerConfig struct {
	MaxRequests   uint32                                      // Max requests in half-open state
	Interval      time.Duration                               // Interval for closed state
	Timeout       time.Duration                               // Timeout for open state
	ReadyToTrip   func(counts gobreaker.Counts) bool          // Custom trip condition
	OnStateChange func(name string, from, to gobreaker.State) // State change callback
}

// RetryConfig holds retry settings
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of attempts, first call included
	Strategy     RetryStrategy // Backoff strategy to use
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
}

// RetryStrategy defines the backoff strategy for retries
type RetryStrategy string

const (
	RetryStrategyExponential RetryStrategy = "exponential"
	RetryStrategyConstant    RetryStrategy = "constant"
	RetryStrategyFibonacci   RetryStrategy = "fibonacci"
)

const (
	MinScore = 1
	MaxScore = 100

	DefaultBaseURL             = "https://api.groq.com/openai/v1"
	DefaultModel               = "mixtral-8x7b-32768"
	DefaultMaxParallelRequests = 6
	DefaultTemperature         = 0.3
	DefaultMaxTokens           = 10
	DefaultReplyTemperature    = 0.7
	DefaultReplyMaxTokens      = 512
	DefaultCacheTTL            = 7 * 24 * time.Hour

	// Content length limits
	DefaultMaxContentLength = 10000 // Default maximum content length in characters
	MinContentLength        = 1     // Minimum content length to be valid
)
