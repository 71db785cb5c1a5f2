package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/sentimatrix/config"
	"github.com/JohnPlummer/sentimatrix/email"
	"github.com/JohnPlummer/sentimatrix/server"
)

var _ = Describe("Server", func() {
	var (
		ctx   context.Context
		store *email.MemoryStore
		sc    *stubScorer
		srv   *server.Server
		now   time.Time
		opts  []server.Option
		extra []email.ServiceOption
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = email.NewMemoryStore()
		sc = newStubScorer()
		now = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
		opts = nil
		extra = nil
	})

	JustBeforeEach(func() {
		svcOpts := append([]email.ServiceOption{email.WithClock(func() time.Time { return now })}, extra...)
		svc := email.NewService(store, sc, svcOpts...)
		srv = server.New(config.Defaults().Server, svc, sc, opts...)
	})

	do := func(method, target, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, target, nil)
		} else {
			req = httptest.NewRequest(method, target, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		srv.Echo.ServeHTTP(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, v interface{}) {
		Expect(json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed())
	}

	seed := func(e email.Email) email.Email {
		Expect(store.InsertOrReplace(ctx, &e)).To(Succeed())
		return e
	}

	Describe("POST /api/emailprocess", func() {
		It("scores and stores the email", func() {
			rec := do(http.MethodPost, "/api/emailprocess",
				`{"subject":"Order","body":"great service","senderEmail":"a@example.com","receiverEmail":"b@example.com"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var got map[string]interface{}
			decode(rec, &got)
			Expect(got["id"]).NotTo(BeEmpty())
			Expect(got["score"]).To(BeNumerically("==", 90))
			Expect(got["type"]).To(Equal("positive"))
			Expect(got["sender"]).To(Equal("a@example.com"))
			Expect(got["response"]).To(BeEmpty())
			Expect(store.Len()).To(Equal(1))
		})

		Context("with a responder", func() {
			BeforeEach(func() {
				extra = append(extra, email.WithResponder(cannedResponder{reply: "Sorry to hear that."}))
			})

			It("returns the drafted reply", func() {
				rec := do(http.MethodPost, "/api/emailprocess", `{"body":"terrible delay"}`)
				Expect(rec.Code).To(Equal(http.StatusOK))

				var got map[string]interface{}
				decode(rec, &got)
				Expect(got["response"]).To(Equal("Sorry to hear that."))
				Expect(got["type"]).To(Equal("negative"))
			})
		})

		Context("with a failing responder", func() {
			BeforeEach(func() {
				extra = append(extra, email.WithResponder(cannedResponder{err: errors.New("model overloaded")}))
			})

			It("still stores the email and answers 200", func() {
				rec := do(http.MethodPost, "/api/emailprocess", `{"body":"great"}`)
				Expect(rec.Code).To(Equal(http.StatusOK))

				var got map[string]interface{}
				decode(rec, &got)
				Expect(got["response"]).To(BeEmpty())
				Expect(store.Len()).To(Equal(1))
			})
		})

		It("accepts the legacy path", func() {
			rec := do(http.MethodPost, "/api/EmailProcess", `{"body":"terrible"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("rejects an empty body with 400", func() {
			rec := do(http.MethodPost, "/api/emailprocess", `{"subject":"x","body":"   "}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(store.Len()).To(BeZero())
		})

		It("rejects malformed JSON with 400", func() {
			rec := do(http.MethodPost, "/api/emailprocess", `{"body":`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 502 when classification fails", func() {
			rec := do(http.MethodPost, "/api/emailprocess", `{"body":"this will fail"}`)
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(store.Len()).To(BeZero())
		})
	})

	Describe("POST /api/classify", func() {
		It("returns the score and type", func() {
			rec := do(http.MethodPost, "/api/classify", `{"text":"terrible delay"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var got map[string]interface{}
			decode(rec, &got)
			Expect(got["score"]).To(BeNumerically("==", 10))
			Expect(got["type"]).To(Equal("negative"))
			Expect(store.Len()).To(BeZero())
		})
	})

	Describe("POST /api/email/analyze", func() {
		It("scores the listed emails and reports unknown ids", func() {
			a := seed(email.Email{Body: "great", Time: now})
			b := seed(email.Email{Body: "this will fail", Time: now})

			rec := do(http.MethodPost, "/api/email/analyze", `["`+a.ID+`","`+b.ID+`","missing"]`)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var got struct {
				Results []struct {
					ID    string `json:"id"`
					Score int    `json:"score"`
				} `json:"results"`
				FailedIDs []string `json:"failedIds"`
			}
			decode(rec, &got)
			Expect(got.Results).To(HaveLen(1))
			Expect(got.Results[0].ID).To(Equal(a.ID))
			Expect(got.Results[0].Score).To(Equal(90))
			Expect(got.FailedIDs).To(ConsistOf(b.ID, "missing"))

			stored, err := store.FindByID(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.SentimentScore).NotTo(BeNil())
			Expect(*stored.SentimentScore).To(Equal(90))
		})

		It("rejects a body that is not a list", func() {
			rec := do(http.MethodPost, "/api/email/analyze", `{"ids":"x"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/email/batch", func() {
		It("scores and stores the batch and reports failures", func() {
			rec := do(http.MethodPost, "/api/email/batch",
				`[{"body":"great","senderEmail":"a@example.com"},{"body":"terrible"},{"body":"this will fail"}]`)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var got struct {
				Emails    []email.Email `json:"emails"`
				FailedIDs []string      `json:"failedIds"`
			}
			decode(rec, &got)
			Expect(got.Emails).To(HaveLen(2))
			Expect(got.Emails[0].Score).To(Equal(90))
			Expect(got.Emails[1].Sender).To(Equal(email.DefaultSender))
			Expect(got.FailedIDs).To(HaveLen(1))
			Expect(store.Len()).To(Equal(2))
		})

		It("rejects the whole batch when a body is empty", func() {
			rec := do(http.MethodPost, "/api/email/batch", `[{"body":"great"},{"body":""}]`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(store.Len()).To(BeZero())
		})

		It("rejects an empty list and a body that is not a list", func() {
			Expect(do(http.MethodPost, "/api/email/batch", `[]`).Code).To(Equal(http.StatusBadRequest))
			Expect(do(http.MethodPost, "/api/email/batch", `{"body":"great"}`).Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("reads", func() {
		var pos, neg, mid email.Email

		BeforeEach(func() {
			pos = seed(email.Email{Subject: "yay", Body: "great", Sender: "a@example.com", Time: now.Add(-time.Hour), Score: 90, Type: email.TypePositive})
			neg = seed(email.Email{Subject: "boo", Body: "terrible", Sender: "b@example.com", Time: now.Add(-48 * time.Hour), Score: 10, Type: email.TypeNegative})
			mid = seed(email.Email{Subject: "meh", Body: "fine", Sender: "a@example.com", Time: now.Add(-20 * 24 * time.Hour), Score: 50, Type: email.TypeNeutral})
		})

		ids := func(rec *httptest.ResponseRecorder) []string {
			var emails []email.Email
			decode(rec, &emails)
			out := make([]string, 0, len(emails))
			for _, e := range emails {
				out = append(out, e.ID)
			}
			return out
		}

		It("lists every email newest first", func() {
			rec := do(http.MethodGet, "/api/email", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(ids(rec)).To(Equal([]string{pos.ID, neg.ID, mid.ID}))
		})

		It("returns one email by id", func() {
			rec := do(http.MethodGet, "/api/email/"+neg.ID, "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var got email.Email
			decode(rec, &got)
			Expect(got.Subject).To(Equal("boo"))
		})

		It("returns 404 for an unknown id", func() {
			rec := do(http.MethodGet, "/api/email/nope", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("deletes an email", func() {
			Expect(do(http.MethodDelete, "/api/email/"+pos.ID, "").Code).To(Equal(http.StatusNoContent))
			Expect(do(http.MethodGet, "/api/email/"+pos.ID, "").Code).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodDelete, "/api/email/"+pos.ID, "").Code).To(Equal(http.StatusNotFound))
		})

		It("filters by sentiment", func() {
			Expect(ids(do(http.MethodGet, "/api/email/by-sentiment/positive", ""))).To(Equal([]string{pos.ID}))
			Expect(ids(do(http.MethodGet, "/api/email/by-sentiment/NEUTRAL", ""))).To(Equal([]string{mid.ID}))
		})

		It("rejects an unknown sentiment with 400", func() {
			Expect(do(http.MethodGet, "/api/email/by-sentiment/angry", "").Code).To(Equal(http.StatusBadRequest))
		})

		It("filters by sender", func() {
			Expect(ids(do(http.MethodGet, "/api/email/sender/a@example.com", ""))).To(Equal([]string{pos.ID, mid.ID}))
		})

		It("filters by date with a seven day default", func() {
			Expect(ids(do(http.MethodGet, "/api/email/by-date", ""))).To(Equal([]string{pos.ID, neg.ID}))
		})

		It("filters by explicit dates", func() {
			rec := do(http.MethodGet, "/api/email/by-date?startDate=2024-02-20&endDate=2024-02-25", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(ids(rec)).To(Equal([]string{mid.ID}))
		})

		It("rejects unparsable and inverted ranges", func() {
			Expect(do(http.MethodGet, "/api/email/by-date?startDate=yesterday", "").Code).To(Equal(http.StatusBadRequest))
			Expect(do(http.MethodGet, "/api/email/by-date?startDate=2024-03-10&endDate=2024-03-01", "").Code).To(Equal(http.StatusBadRequest))
		})

		It("returns dashboard stats", func() {
			rec := do(http.MethodGet, "/api/email/stats", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var stats email.DashboardStats
			decode(rec, &stats)
			Expect(stats.TotalEmails).To(Equal(3))
			Expect(stats.PositiveEmails).To(Equal(1))
			Expect(stats.NegativeEmails).To(Equal(1))
			Expect(stats.NeutralEmails).To(Equal(1))
			Expect(stats.AverageScore).To(BeNumerically("==", 50))
			Expect(stats.RecentEmails).To(HaveLen(3))
		})

		It("returns the thirty day trend oldest day first", func() {
			rec := do(http.MethodGet, "/api/email/sentiment-trend", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var points []email.SentimentPoint
			decode(rec, &points)
			Expect(points).To(HaveLen(3))
			Expect(points[0].Date).To(Equal("2024-02-24"))
			Expect(points[2].Date).To(Equal("2024-03-15"))
			Expect(points[2].AverageScore).To(BeNumerically("==", 90))
		})

		It("returns the trend for a named period", func() {
			rec := do(http.MethodGet, "/api/email/sentiment/5D", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var points []email.SentimentPoint
			decode(rec, &points)
			Expect(points).To(HaveLen(2))

			Expect(do(http.MethodGet, "/api/email/sentiment/2Y", "").Code).To(Equal(http.StatusBadRequest))
		})

		It("cleans up placeholders and types", func() {
			seed(email.Email{Body: "odd", Time: now, Score: 80, Type: email.TypeNeutral})

			rec := do(http.MethodPost, "/api/email/cleanup", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var got map[string]int
			decode(rec, &got)
			Expect(got["updated"]).To(Equal(4))

			positives := ids(do(http.MethodGet, "/api/email/by-sentiment/positive", ""))
			Expect(positives).To(HaveLen(2))
		})

		It("serves fixed sentiment shortcuts", func() {
			Expect(ids(do(http.MethodGet, "/api/email/positive", ""))).To(Equal([]string{pos.ID}))
			Expect(ids(do(http.MethodGet, "/api/email/negative", ""))).To(Equal([]string{neg.ID}))
		})

		DescribeTable("serves the EmailProcess routes",
			func(path string, want func() []string) {
				rec := do(http.MethodGet, "/api/EmailProcess"+path, "")
				Expect(rec.Code).To(Equal(http.StatusOK))
				Expect(ids(rec)).To(Equal(want()))
			},
			Entry("serious tickets", "/serious-tickets", func() []string { return []string{neg.ID} }),
			Entry("by sentiment", "/by-sentiment/neutral", func() []string { return []string{mid.ID} }),
			Entry("by date", "/by-date", func() []string { return []string{pos.ID, neg.ID} }),
		)

		It("serves stats, trend and single emails under EmailProcess", func() {
			var stats email.DashboardStats
			rec := do(http.MethodGet, "/api/EmailProcess/dashboard-stats", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			decode(rec, &stats)
			Expect(stats.TotalEmails).To(Equal(3))

			var points []email.SentimentPoint
			rec = do(http.MethodGet, "/api/EmailProcess/sentiment-trend", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			decode(rec, &points)
			Expect(points).To(HaveLen(3))

			var got email.Email
			rec = do(http.MethodGet, "/api/EmailProcess/"+pos.ID, "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			decode(rec, &got)
			Expect(got.Subject).To(Equal("yay"))

			Expect(do(http.MethodPost, "/api/EmailProcess/cleanup", "").Code).To(Equal(http.StatusOK))
		})
	})

	Describe("GET /health", func() {
		It("reports ok with the version", func() {
			rec := do(http.MethodGet, "/health", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var got map[string]interface{}
			decode(rec, &got)
			Expect(got["status"]).To(Equal("ok"))
			Expect(got["version"]).NotTo(BeEmpty())
			Expect(got["checks"]).To(HaveKeyWithValue("store", "ok"))
		})

		It("returns 503 when the scorer is unhealthy", func() {
			sc.healthy = false
			Expect(do(http.MethodGet, "/health", "").Code).To(Equal(http.StatusServiceUnavailable))
		})

		Context("with a failing dependency", func() {
			BeforeEach(func() {
				opts = append(opts, server.WithHealthCheck("cache", func(context.Context) error {
					return errors.New("connection refused")
				}))
			})

			It("returns 503 and names it", func() {
				rec := do(http.MethodGet, "/health", "")
				Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
				var got map[string]interface{}
				decode(rec, &got)
				Expect(got["checks"]).To(HaveKeyWithValue("cache", "connection refused"))
			})
		})
	})

	It("serves prometheus metrics", func() {
		rec := do(http.MethodGet, "/metrics", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("# TYPE"))
	})

	It("returns 404 JSON for unknown routes", func() {
		rec := do(http.MethodGet, "/nowhere", "")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(rec.Header().Get(echo.HeaderContentType)).To(ContainSubstring("application/json"))
	})

	It("maps storage failures to 500 without leaking the cause", func() {
		svc := email.NewService(downStore{}, sc)
		srv = server.New(config.Defaults().Server, svc, sc)
		rec := do(http.MethodGet, "/api/email", "")
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).NotTo(ContainSubstring("upstream"))
	})
})

var _ = Describe("Request IDs", func() {
	It("stamps every response with a uuid", func() {
		svc := email.NewService(email.NewMemoryStore(), newStubScorer())
		srv := server.New(config.Defaults().Server, svc, newStubScorer())

		rec := httptest.NewRecorder()
		srv.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/email", nil))

		id := rec.Header().Get(echo.HeaderXRequestID)
		_, err := uuid.Parse(id)
		Expect(err).NotTo(HaveOccurred())
	})
})
