package scorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

var scorePattern = regexp.MustCompile(`-?\d+`)

// SentimentClient classifies one text per call against the sentiment API.
// Every call holds a permit from the shared limiter and uses the next
// credential from the rotator.
type SentimentClient struct {
	rotator      *CredentialRotator
	limiter      *ConcurrencyLimiter
	clients      []ChatClient
	throttle     *rate.Limiter
	model        string
	systemPrompt string
	temperature  float32
	maxTokens    int
	timeout      time.Duration
	metrics      *MetricsRecorder

	replyPrompt      string
	replyTemperature float32
	replyMaxTokens   int
}

// ClientOption configures a SentimentClient
type ClientOption func(*SentimentClient)

// WithClientModel sets the model name sent with each request
func WithClientModel(model string) ClientOption {
	return func(c *SentimentClient) { c.model = model }
}

// WithSystemPrompt replaces the built-in instruction
func WithSystemPrompt(prompt string) ClientOption {
	return func(c *SentimentClient) { c.systemPrompt = prompt }
}

// WithReplyPrompt replaces the built-in reply instruction
func WithReplyPrompt(prompt string) ClientOption {
	return func(c *SentimentClient) { c.replyPrompt = prompt }
}

// WithReplyMaxTokens caps the length of generated replies; 0 leaves it to the API
func WithReplyMaxTokens(n int) ClientOption {
	return func(c *SentimentClient) { c.replyMaxTokens = n }
}

// WithCallTimeout bounds each API call
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *SentimentClient) { c.timeout = d }
}

// WithRateLimit gates calls to rps requests per second with the given burst
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *SentimentClient) {
		if rps <= 0 {
			c.throttle = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.throttle = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClientMetrics attaches a metrics recorder
func WithClientMetrics(m *MetricsRecorder) ClientOption {
	return func(c *SentimentClient) { c.metrics = m }
}

// NewSentimentClient builds a client with one transport per credential.
// dial is called once for every credential in the rotator.
func NewSentimentClient(rotator *CredentialRotator, limiter *ConcurrencyLimiter, dial func(Credential) ChatClient, opts ...ClientOption) (*SentimentClient, error) {
	if rotator.Len() == 0 {
		return nil, &ConfigurationError{Field: "APIKeys", Err: ErrNoCredentials}
	}
	if limiter == nil {
		return nil, newConfigError("MaxParallelRequests", "concurrency limiter is required")
	}
	if dial == nil {
		return nil, newConfigError("ChatClient", "dial function is required")
	}

	c := &SentimentClient{
		rotator:      rotator,
		limiter:      limiter,
		model:        DefaultModel,
		systemPrompt: SystemPrompt(),
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,

		replyPrompt:      ReplyPrompt(),
		replyTemperature: DefaultReplyTemperature,
		replyMaxTokens:   DefaultReplyMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, cred := range rotator.All() {
		c.clients = append(c.clients, dial(cred))
	}
	return c, nil
}

// Classify returns a sentiment score in [1,100] for text
func (c *SentimentClient) Classify(ctx context.Context, text string) (int, error) {
	start := time.Now()
	score, err := c.classify(ctx, text)

	status := "success"
	if err != nil {
		status = "error"
		c.metrics.RecordError(classifyError(err))
	} else {
		c.metrics.RecordScore(score)
	}
	c.metrics.RecordClassify(status, time.Since(start).Seconds())

	return score, err
}

func (c *SentimentClient) classify(ctx context.Context, text string) (int, error) {
	reply, cred, err := c.complete(ctx, c.buildRequest(text), "sentiment API request failed")
	if err != nil {
		return 0, err
	}

	score, err := ParseScore(reply)
	if err != nil {
		slog.WarnContext(ctx, "Unparsable sentiment reply", "reply", reply)
		return 0, err
	}

	slog.Debug("Parsed sentiment score",
		"score", score,
		"credential_slot", cred.Index)
	return score, nil
}

// GenerateReply drafts a reply to an email body. It shares the rate gate,
// concurrency permits and credential rotation with Classify.
func (c *SentimentClient) GenerateReply(ctx context.Context, body string) (string, error) {
	start := time.Now()
	reply, _, err := c.complete(ctx, c.buildReplyRequest(body), "reply generation failed")

	status := "success"
	if err != nil {
		status = "error"
		c.metrics.RecordError(classifyError(err))
	}
	c.metrics.RecordReply(status, time.Since(start).Seconds())

	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// complete sends req with the next credential while holding a permit and
// returns the first choice's content
func (c *SentimentClient) complete(ctx context.Context, req openai.ChatCompletionRequest, reason string) (string, Credential, error) {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			return "", Credential{}, &ClassificationError{Reason: "waiting for rate limit", Err: err}
		}
	}

	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		return "", Credential{}, &ClassificationError{Reason: "waiting for concurrency permit", Err: err}
	}
	defer release()

	cred, err := c.rotator.Acquire()
	if err != nil {
		return "", Credential{}, err
	}
	c.metrics.RecordCredentialUse(cred.Index)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.clients[cred.Index].CreateChatCompletion(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "Chat completion failed",
			"credential_slot", cred.Index,
			"reason", reason,
			"error", err)
		return "", cred, &ClassificationError{Reason: reason, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", cred, &ClassificationError{Reason: reason, Err: ErrEmptyResponse}
	}
	return resp.Choices[0].Message.Content, cred, nil
}

func (c *SentimentClient) buildRequest(text string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: c.systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

func (c *SentimentClient) buildReplyRequest(body string) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: c.replyPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: body,
			},
		},
		Temperature: c.replyTemperature,
		MaxTokens:   c.replyMaxTokens,
	}
}

// ParseScore extracts the first integer in reply and clamps it to [1,100]
func ParseScore(reply string) (int, error) {
	match := scorePattern.FindString(strings.TrimSpace(reply))
	if match == "" {
		return 0, &ClassificationError{Reason: fmt.Sprintf("cannot parse score from %q", reply), Err: ErrNoScore}
	}

	n, err := strconv.Atoi(match)
	if err != nil {
		// Only overflow can fail here; the pattern guarantees digits.
		if errors.Is(err, strconv.ErrRange) {
			if strings.HasPrefix(match, "-") {
				return MinScore, nil
			}
			return MaxScore, nil
		}
		return 0, &ClassificationError{Reason: fmt.Sprintf("cannot parse score from %q", reply), Err: err}
	}
	return clampScore(n), nil
}

func clampScore(n int) int {
	return max(MinScore, min(MaxScore, n))
}
