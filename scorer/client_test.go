package scorer_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/sentimatrix/scorer"
)

var _ = Describe("ParseScore", func() {
	DescribeTable("extracts and clamps the first integer",
		func(reply string, want int) {
			got, err := scorer.ParseScore(reply)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("bare number", "42", 42),
		Entry("surrounding text", "Score: 87 (high confidence)", 87),
		Entry("first of several", "73, maybe 80", 73),
		Entry("above range", "150", 100),
		Entry("below range", "0", 1),
		Entry("negative", "-3", 1),
		Entry("whitespace", "  \n 55 \n", 55),
		Entry("overflow", "99999999999999999999999", 100),
		Entry("negative overflow", "-99999999999999999999999", 1),
	)

	It("fails when the reply has no digits", func() {
		_, err := scorer.ParseScore("unclear")
		Expect(err).To(HaveOccurred())
		Expect(scorer.IsClassificationError(err)).To(BeTrue())
		Expect(errors.Is(err, scorer.ErrNoScore)).To(BeTrue())
	})
})

var _ = Describe("SentimentClient", func() {
	var (
		ctx     context.Context
		limiter *scorer.ConcurrencyLimiter
	)

	BeforeEach(func() {
		ctx = context.Background()
		limiter, _ = scorer.NewConcurrencyLimiter(6, nil)
	})

	newClient := func(keys []string, dial func(scorer.Credential) scorer.ChatClient, opts ...scorer.ClientOption) *scorer.SentimentClient {
		rotator, err := scorer.NewCredentialRotator(keys)
		Expect(err).NotTo(HaveOccurred())
		client, err := scorer.NewSentimentClient(rotator, limiter, dial, opts...)
		Expect(err).NotTo(HaveOccurred())
		return client
	}

	It("sends the system prompt, the text and the sampling settings", func() {
		fake := &fakeChatClient{reply: func(string) (string, error) { return "80", nil }}
		client := newClient([]string{"k"}, func(scorer.Credential) scorer.ChatClient { return fake },
			scorer.WithClientModel("test-model"))

		score, err := client.Classify(ctx, "great service")
		Expect(err).NotTo(HaveOccurred())
		Expect(score).To(Equal(80))

		req := fake.LastRequest()
		Expect(req.Model).To(Equal("test-model"))
		Expect(req.Messages).To(HaveLen(2))
		Expect(req.Messages[0].Role).To(Equal(openai.ChatMessageRoleSystem))
		Expect(req.Messages[0].Content).To(Equal(scorer.SystemPrompt()))
		Expect(req.Messages[1].Role).To(Equal(openai.ChatMessageRoleUser))
		Expect(req.Messages[1].Content).To(Equal("great service"))
		Expect(req.Temperature).To(BeNumerically("~", scorer.DefaultTemperature, 0.0001))
		Expect(req.MaxTokens).To(Equal(scorer.DefaultMaxTokens))
	})

	It("honours a custom system prompt", func() {
		fake := &fakeChatClient{}
		client := newClient([]string{"k"}, func(scorer.Credential) scorer.ChatClient { return fake },
			scorer.WithSystemPrompt("rate it"))

		_, err := client.Classify(ctx, "x")
		Expect(err).NotTo(HaveOccurred())
		Expect(fake.LastRequest().Messages[0].Content).To(Equal("rate it"))
	})

	It("uses the next credential on every call", func() {
		fakes := map[string]*fakeChatClient{}
		var mu sync.Mutex
		client := newClient([]string{"A", "B", "C"}, func(cred scorer.Credential) scorer.ChatClient {
			mu.Lock()
			defer mu.Unlock()
			f := &fakeChatClient{}
			fakes[cred.Key] = f
			return f
		})

		for i := 0; i < 4; i++ {
			_, err := client.Classify(ctx, fmt.Sprintf("text %d", i))
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(fakes["A"].Calls()).To(Equal(2))
		Expect(fakes["B"].Calls()).To(Equal(1))
		Expect(fakes["C"].Calls()).To(Equal(1))
	})

	It("wraps transport failures and releases the permit", func() {
		fake := &fakeChatClient{reply: func(string) (string, error) {
			return "", &openai.APIError{HTTPStatusCode: 500, Message: "boom"}
		}}
		client := newClient([]string{"k"}, func(scorer.Credential) scorer.ChatClient { return fake })

		_, err := client.Classify(ctx, "x")
		Expect(scorer.IsClassificationError(err)).To(BeTrue())
		var apiErr *openai.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(limiter.InFlight()).To(BeZero())
	})

	It("fails on a reply with no choices", func() {
		empty := &sequenceChatClient{response: openai.ChatCompletionResponse{}}
		client := newClient([]string{"k"}, func(scorer.Credential) scorer.ChatClient { return empty })

		_, err := client.Classify(ctx, "x")
		Expect(errors.Is(err, scorer.ErrEmptyResponse)).To(BeTrue())
	})

	It("fails on a reply without a number", func() {
		fake := &fakeChatClient{reply: func(string) (string, error) { return "unclear", nil }}
		client := newClient([]string{"k"}, func(scorer.Credential) scorer.ChatClient { return fake })

		_, err := client.Classify(ctx, "x")
		Expect(errors.Is(err, scorer.ErrNoScore)).To(BeTrue())
		Expect(limiter.InFlight()).To(BeZero())
	})

	It("gives up waiting for a permit when the context ends", func() {
		limiter, _ = scorer.NewConcurrencyLimiter(1, nil)
		fake := &fakeChatClient{}
		client := newClient([]string{"k"}, func(scorer.Credential) scorer.ChatClient { return fake })

		hold, err := limiter.Acquire(ctx)
		Expect(err).NotTo(HaveOccurred())

		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = client.Classify(waitCtx, "x")
		Expect(scorer.IsClassificationError(err)).To(BeTrue())
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		Expect(fake.Calls()).To(BeZero())

		hold()
		Expect(limiter.InFlight()).To(BeZero())
	})

	It("bounds each call with the configured timeout", func() {
		fake := &fakeChatClient{delay: time.Second}
		client := newClient([]string{"k"}, func(scorer.Credential) scorer.ChatClient { return fake },
			scorer.WithCallTimeout(20*time.Millisecond))

		_, err := client.Classify(ctx, "x")
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		Expect(limiter.InFlight()).To(BeZero())
	})

	It("keeps concurrent calls under the limiter ceiling", func() {
		limiter, _ = scorer.NewConcurrencyLimiter(3, nil)
		fake := &fakeChatClient{delay: 10 * time.Millisecond}
		client := newClient([]string{"A", "B"}, func(scorer.Credential) scorer.ChatClient { return fake })

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := client.Classify(ctx, "x")
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		Expect(fake.peak.Load()).To(BeNumerically("<=", 3))
		Expect(fake.Calls()).To(Equal(20))
	})

	Describe("GenerateReply", func() {
		It("sends the reply prompt and the email body", func() {
			fake := &fakeChatClient{reply: func(string) (string, error) { return "  Thanks for letting us know.\n", nil }}
			client := newClient([]string{"k"}, func(scorer.Credential) scorer.ChatClient { return fake },
				scorer.WithClientModel("test-model"))

			reply, err := client.GenerateReply(ctx, "my order is late")
			Expect(err).NotTo(HaveOccurred())
			Expect(reply).To(Equal("Thanks for letting us know."))

			req := fake.LastRequest()
			Expect(req.Model).To(Equal("test-model"))
			Expect(req.Messages).To(HaveLen(2))
			Expect(req.Messages[0].Content).To(Equal(scorer.ReplyPrompt()))
			Expect(req.Messages[1].Content).To(Equal("my order is late"))
			Expect(req.MaxTokens).To(Equal(scorer.DefaultReplyMaxTokens))
			Expect(limiter.InFlight()).To(BeZero())
		})

		It("shares credential rotation with Classify", func() {
			fakes := map[string]*fakeChatClient{}
			var mu sync.Mutex
			client := newClient([]string{"A", "B"}, func(cred scorer.Credential) scorer.ChatClient {
				mu.Lock()
				defer mu.Unlock()
				f := &fakeChatClient{}
				fakes[cred.Key] = f
				return f
			})

			_, err := client.Classify(ctx, "x")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.GenerateReply(ctx, "x")
			Expect(err).NotTo(HaveOccurred())

			Expect(fakes["A"].Calls()).To(Equal(1))
			Expect(fakes["B"].Calls()).To(Equal(1))
		})

		It("waits for a permit from the shared limiter", func() {
			limiter, _ = scorer.NewConcurrencyLimiter(1, nil)
			fake := &fakeChatClient{}
			client := newClient([]string{"k"}, func(scorer.Credential) scorer.ChatClient { return fake })

			hold, err := limiter.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			defer hold()

			waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err = client.GenerateReply(waitCtx, "x")
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(fake.Calls()).To(BeZero())
		})

		It("wraps transport failures", func() {
			fake := &fakeChatClient{reply: func(string) (string, error) {
				return "", &openai.APIError{HTTPStatusCode: 503, Message: "busy"}
			}}
			client := newClient([]string{"k"}, func(scorer.Credential) scorer.ChatClient { return fake })

			reply, err := client.GenerateReply(ctx, "x")
			Expect(reply).To(BeEmpty())
			Expect(scorer.IsClassificationError(err)).To(BeTrue())
			Expect(limiter.InFlight()).To(BeZero())
		})
	})

	It("requires a limiter and a dialer", func() {
		rotator, _ := scorer.NewCredentialRotator([]string{"k"})
		_, err := scorer.NewSentimentClient(rotator, nil, func(scorer.Credential) scorer.ChatClient { return &fakeChatClient{} })
		Expect(scorer.IsConfigurationError(err)).To(BeTrue())

		_, err = scorer.NewSentimentClient(rotator, limiter, nil)
		Expect(scorer.IsConfigurationError(err)).To(BeTrue())
	})
})
