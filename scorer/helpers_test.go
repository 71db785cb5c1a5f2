package scorer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/JohnPlummer/sentimatrix/scorer"
)

// fakeChatClient answers chat completions from a reply function and records
// how many calls overlapped.
type fakeChatClient struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest

	reply func(text string) (string, error)
	delay time.Duration

	active atomic.Int64
	peak   atomic.Int64
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return openai.ChatCompletionResponse{}, ctx.Err()
		}
	}

	content := "50"
	if f.reply != nil {
		var err error
		content, err = f.reply(userText(req))
		if err != nil {
			return openai.ChatCompletionResponse{}, err
		}
	}

	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}, nil
}

func (f *fakeChatClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeChatClient) LastRequest() openai.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func userText(req openai.ChatCompletionRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}

// sequenceChatClient returns errs in order, then response
type sequenceChatClient struct {
	mu       sync.Mutex
	response openai.ChatCompletionResponse
	errs     []error
	calls    int
}

func (s *sequenceChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return openai.ChatCompletionResponse{}, s.errs[s.calls-1]
	}
	return s.response, nil
}

func (s *sequenceChatClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func replyWith(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

// fakeClassifier scores texts from a table and counts calls per text
type fakeClassifier struct {
	mu     sync.Mutex
	calls  map[string]int
	scores map[string]int
	fail   map[string]error
	delay  time.Duration
}

func newFakeClassifier(scores map[string]int) *fakeClassifier {
	return &fakeClassifier{
		calls:  make(map[string]int),
		scores: scores,
		fail:   make(map[string]error),
	}
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (int, error) {
	f.mu.Lock()
	f.calls[text]++
	err := f.fail[text]
	score, ok := f.scores[text]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, &scorer.ClassificationError{Reason: "cancelled", Err: ctx.Err()}
		}
	}
	if err != nil {
		return 0, err
	}
	if !ok {
		score = 50
	}
	return score, nil
}

func (f *fakeClassifier) CallsFor(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

func (f *fakeClassifier) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

var errStoreDown = errors.New("store unavailable")

// brokenCache fails every read and write
type brokenCache struct {
	gets atomic.Int64
	puts atomic.Int64
}

func (c *brokenCache) Get(_ context.Context, key scorer.CacheKey) (int, bool, error) {
	c.gets.Add(1)
	return 0, false, &scorer.CacheReadError{Key: key, Err: errStoreDown}
}

func (c *brokenCache) Put(_ context.Context, key scorer.CacheKey, _ int, _ time.Duration) error {
	c.puts.Add(1)
	return &scorer.CacheWriteError{Key: key, Err: errStoreDown}
}

func resultIDs(res *scorer.BatchResult) []string {
	ids := make([]string, 0, len(res.Results))
	for _, r := range res.Results {
		ids = append(ids, r.ID)
	}
	return ids
}
