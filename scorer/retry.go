package scorer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
)

// RetryWrapper wraps a ChatClient with retry logic.
// All attempts go out with the credential the wrapped client was built for.
type RetryWrapper struct {
	client  ChatClient
	config  *RetryConfig
	metrics *MetricsRecorder
}

// NewRetryWrapper creates a new retry wrapper around a ChatClient
func NewRetryWrapper(client ChatClient, config *RetryConfig, metrics *MetricsRecorder) *RetryWrapper {
	if config == nil {
		config = defaultRetryConfig()
	}

	return &RetryWrapper{
		client:  client,
		config:  config,
		metrics: metrics,
	}
}

// CreateChatCompletion executes the API call with retry logic
func (w *RetryWrapper) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse
	attempts := 0

	err := retry.Do(ctx, w.backoff(), func(ctx context.Context) error {
		attempts++

		r, err := w.client.CreateChatCompletion(ctx, req)
		if err == nil {
			resp = r
			return nil
		}

		if !IsRetryableError(err) {
			slog.Debug("Non-retryable error, giving up",
				"error", err,
				"attempts", attempts)
			return err
		}

		w.metrics.RecordRetry(classifyError(err))
		slog.Debug("Retrying request after error",
			"attempt", attempts,
			"error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		if attempts >= w.config.MaxAttempts {
			slog.Warn("Max retry attempts reached",
				"attempts", attempts,
				"error", err)
		}
		return openai.ChatCompletionResponse{}, err
	}

	if attempts > 1 {
		slog.Info("Request succeeded after retry", "attempts", attempts)
	}
	return resp, nil
}

// backoff returns a fresh backoff for one logical request
func (w *RetryWrapper) backoff() retry.Backoff {
	jitter := max(w.config.InitialDelay/10, time.Nanosecond)

	var b retry.Backoff
	switch w.config.Strategy {
	case RetryStrategyConstant:
		b = retry.NewConstant(w.config.InitialDelay)
	case RetryStrategyFibonacci:
		b = retry.NewFibonacci(w.config.InitialDelay)
	default:
		b = retry.NewExponential(w.config.InitialDelay)
	}

	// MaxAttempts counts the first call, MaxRetries does not
	retries := uint64(0)
	if w.config.MaxAttempts > 1 {
		retries = uint64(w.config.MaxAttempts - 1)
	}

	return retry.WithMaxRetries(retries,
		retry.WithCappedDuration(w.config.MaxDelay,
			retry.WithJitter(jitter, b)))
}

// IsRetryableError determines if an error should trigger a retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429: // Rate limit - definitely retry
			return true
		case 500, 502, 503, 504:
			return true
		default:
			return apiErr.HTTPStatusCode >= 500
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// Timeouts and network errors
	return true
}
