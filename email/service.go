package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/JohnPlummer/sentimatrix/scorer"
)

const (
	DefaultSubject  = "No Subject"
	DefaultSender   = "unknown@sender.com"
	DefaultReceiver = "unknown@receiver.com"

	// Shown on the dashboard and written by Cleanup
	PlaceholderSubject = "(No Subject)"
	PlaceholderSender  = "(No Sender)"

	RecentEmailsLimit = 5

	DefaultListWindow  = 7 * 24 * time.Hour
	DefaultTrendWindow = 30 * 24 * time.Hour
)

// neutral emails are selected by score, not by stored type
const (
	neutralMin = NegativeThreshold + 1
	neutralMax = PositiveThreshold
)

// Service ingests emails, scores them and answers dashboard queries
type Service struct {
	store      Store
	scorer     scorer.Scorer
	responder  scorer.Responder
	validation scorer.ValidationOptions
	now        func() time.Time
}

// Processed is an ingested email together with the reply drafted for it
type Processed struct {
	Email
	Response string
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithClock replaces time.Now
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithValidation replaces the body validation rules applied on ingest
func WithValidation(opts scorer.ValidationOptions) ServiceOption {
	return func(s *Service) { s.validation = opts }
}

// WithResponder drafts a reply for every email passed to Process
func WithResponder(r scorer.Responder) ServiceOption {
	return func(s *Service) { s.responder = r }
}

// DefaultValidation requires a non-blank body and places no cap on its length
func DefaultValidation() scorer.ValidationOptions {
	opts := scorer.DefaultValidationOptions()
	opts.MaxLength = 0
	return opts
}

func NewService(store Store, sc scorer.Scorer, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		scorer:     sc,
		validation: DefaultValidation(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest scores one inbound email and stores it
func (s *Service) Ingest(ctx context.Context, in Inbound) (Email, error) {
	if err := scorer.ValidateContent(in.Body, s.validation); err != nil {
		return Email{}, err
	}

	slog.Info("Processing inbound email", "sender", in.SenderEmail)
	score, err := s.scorer.Classify(ctx, in.Body)
	if err != nil {
		return Email{}, err
	}

	e := s.draft(in)
	e.Score = score
	e.Type = DetermineType(score)

	if err := s.store.InsertOrReplace(ctx, &e); err != nil {
		return Email{}, err
	}
	slog.Info("Stored email", "id", e.ID, "sender", e.Sender, "score", e.Score, "type", e.Type)
	return e, nil
}

// Process ingests one email and drafts a reply to it. A failed reply is
// logged and leaves Response empty; the email stays stored.
func (s *Service) Process(ctx context.Context, in Inbound) (Processed, error) {
	e, err := s.Ingest(ctx, in)
	if err != nil {
		return Processed{}, err
	}

	p := Processed{Email: e}
	if s.responder == nil {
		return p, nil
	}
	reply, err := s.responder.GenerateReply(ctx, e.Body)
	if err != nil {
		slog.WarnContext(ctx, "Reply generation failed", "id", e.ID, "error", err)
		return p, nil
	}
	slog.Info("Generated reply", "id", e.ID)
	p.Response = reply
	return p, nil
}

// IngestBatch validates every body, then scores and stores the emails in
// one batch. Any invalid body rejects the whole request.
func (s *Service) IngestBatch(ctx context.Context, in []Inbound) ([]Email, *scorer.BatchResult, error) {
	var issues []string
	for i, item := range in {
		if err := scorer.ValidateContent(item.Body, s.validation); err != nil {
			issues = append(issues, fmt.Sprintf("email at index %d: %v", i, err))
		}
	}
	if len(issues) > 0 {
		return nil, nil, &scorer.ValidationError{Issues: issues}
	}

	emails := make([]Email, 0, len(in))
	for _, item := range in {
		emails = append(emails, s.draft(item))
	}

	res, err := s.ProcessNewEmails(ctx, emails)
	if res == nil {
		return nil, nil, err
	}

	scored := res.Scores()
	stored := make([]Email, 0, len(scored))
	for _, e := range emails {
		if _, ok := scored[e.ID]; ok {
			stored = append(stored, e)
		}
	}
	return stored, res, err
}

// draft fills in defaults for the fields an inbound email left out
func (s *Service) draft(in Inbound) Email {
	e := Email{
		Subject:  orDefault(in.Subject, DefaultSubject),
		Body:     in.Body,
		Sender:   orDefault(in.SenderEmail, DefaultSender),
		Receiver: orDefault(in.ReceiverEmail, DefaultReceiver),
		Time:     in.Time,
	}
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	e.Time = e.Time.UTC()
	return e
}

// ProcessNewEmails scores emails in one batch and upserts each scored email
// with its score and type. Emails without an ID get one.
func (s *Service) ProcessNewEmails(ctx context.Context, emails []Email) (*scorer.BatchResult, error) {
	byID := make(map[string]*Email, len(emails))
	reqs := make([]scorer.ScoreRequest, 0, len(emails))
	for i := range emails {
		e := &emails[i]
		if e.ID == "" {
			e.ID = primitive.NewObjectID().Hex()
		}
		byID[e.ID] = e
		reqs = append(reqs, scorer.ScoreRequest{ID: e.ID, Content: e.Body})
	}

	res, batchErr := s.scorer.ScoreBatch(ctx, reqs)
	if res == nil {
		return nil, batchErr
	}

	for _, r := range res.Results {
		e := byID[r.ID]
		e.Score = r.Score
		e.Type = DetermineType(r.Score)
		if err := s.store.InsertOrReplace(ctx, e); err != nil {
			return res, err
		}
	}
	slog.Info("Processed new emails",
		"scored", len(res.Results),
		"failed", len(res.Failures))
	return res, batchErr
}

// AnalyzeByIDs scores the stored emails named by ids and records each score as
// the email's sentiment score. Unknown ids are reported as failures.
func (s *Service) AnalyzeByIDs(ctx context.Context, ids []string) (*scorer.BatchResult, error) {
	ids = uniqueNonEmpty(ids)
	found, err := s.store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(found))
	reqs := make([]scorer.ScoreRequest, 0, len(found))
	for _, e := range found {
		present[e.ID] = true
		reqs = append(reqs, scorer.ScoreRequest{ID: e.ID, Content: e.Body})
	}

	res, batchErr := s.scorer.ScoreBatch(ctx, reqs)
	if res == nil {
		return nil, batchErr
	}
	for _, id := range ids {
		if !present[id] {
			res.Failures = append(res.Failures, scorer.ItemFailure{
				ID:  id,
				Err: fmt.Errorf("email %q: %w", id, ErrNotFound),
			})
		}
	}

	updates := make([]Update, 0, len(res.Results))
	for _, r := range res.Results {
		updates = append(updates, Update{ID: r.ID, SentimentScore: ptr(r.Score)})
	}
	if len(updates) > 0 {
		if err := s.store.BulkUpdate(ctx, updates); err != nil {
			return res, err
		}
	}

	slog.Info("Analyzed emails",
		"requested", len(ids),
		"scored", len(res.Results),
		"failed", len(res.Failures))
	return res, batchErr
}

// Classify scores ad-hoc text without storing anything
func (s *Service) Classify(ctx context.Context, text string) (int, error) {
	if err := scorer.ValidateContent(text, s.validation); err != nil {
		return 0, err
	}
	return s.scorer.Classify(ctx, text)
}

// Get returns one email
func (s *Service) Get(ctx context.Context, id string) (Email, error) {
	return s.store.FindByID(ctx, id)
}

// List returns every email, newest first
func (s *Service) List(ctx context.Context) ([]Email, error) {
	return s.store.List(ctx, Filter{})
}

// Delete removes one email
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// BySentiment lists emails of one type. Positive and negative use the stored
// type; neutral selects scores strictly between the thresholds.
func (s *Service) BySentiment(ctx context.Context, t Type) ([]Email, error) {
	switch t {
	case TypePositive, TypeNegative:
		return s.store.List(ctx, Filter{Type: t})
	case TypeNeutral:
		return s.store.List(ctx, Filter{MinScore: ptr(neutralMin), MaxScore: ptr(neutralMax)})
	default:
		return nil, fmt.Errorf("%w %q", ErrInvalidType, t)
	}
}

// BySender lists the emails sent from one address
func (s *Service) BySender(ctx context.Context, sender string) ([]Email, error) {
	return s.store.List(ctx, Filter{Sender: sender})
}

// ByDateRange lists emails received between from and to, inclusive
func (s *Service) ByDateRange(ctx context.Context, from, to time.Time) ([]Email, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return s.store.List(ctx, Filter{From: from, To: to})
}

// DefaultRange returns [now-window, now]
func (s *Service) DefaultRange(window time.Duration) (time.Time, time.Time) {
	now := s.now().UTC()
	return now.Add(-window), now
}

// DashboardStats counts emails by threshold and lists the most recent ones
// that have a body.
func (s *Service) DashboardStats(ctx context.Context) (DashboardStats, error) {
	all, err := s.store.List(ctx, Filter{})
	if err != nil {
		return DashboardStats{}, err
	}

	stats := DashboardStats{
		LastUpdated:  s.now().UTC(),
		RecentEmails: []EmailSummary{},
	}
	if len(all) == 0 {
		slog.Warn("No emails found for dashboard")
		return stats, nil
	}

	total := 0
	for _, e := range all {
		total += e.Score
		switch DetermineType(e.Score) {
		case TypePositive:
			stats.PositiveEmails++
		case TypeNegative:
			stats.NegativeEmails++
		}

		if e.Body != "" && len(stats.RecentEmails) < RecentEmailsLimit {
			stats.RecentEmails = append(stats.RecentEmails, EmailSummary{
				ID:      e.ID,
				Subject: orDefault(e.Subject, PlaceholderSubject),
				Sender:  orDefault(e.Sender, PlaceholderSender),
				Score:   e.Score,
				Type:    DetermineType(e.Score),
				Time:    e.Time,
			})
		}
	}
	stats.TotalEmails = len(all)
	stats.NeutralEmails = stats.TotalEmails - stats.PositiveEmails - stats.NegativeEmails
	stats.AverageScore = float64(total) / float64(len(all))

	slog.Info("Dashboard stats calculated",
		"total", stats.TotalEmails,
		"positive", stats.PositiveEmails,
		"negative", stats.NegativeEmails,
		"neutral", stats.NeutralEmails)
	return stats, nil
}

// SentimentTrend averages scores per UTC day between from and to, oldest day first
func (s *Service) SentimentTrend(ctx context.Context, from, to time.Time) ([]SentimentPoint, error) {
	emails, err := s.ByDateRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return trend(emails), nil
}

// TrendForPeriod is SentimentTrend from the start of period until now
func (s *Service) TrendForPeriod(ctx context.Context, period string) ([]SentimentPoint, error) {
	now := s.now().UTC()
	start, err := PeriodStart(period, now)
	if err != nil {
		return nil, err
	}
	return s.SentimentTrend(ctx, start, now)
}

// PeriodStart resolves 1D, 5D, 1W or 1M relative to now
func PeriodStart(period string, now time.Time) (time.Time, error) {
	switch strings.ToUpper(strings.TrimSpace(period)) {
	case "1D":
		return now.AddDate(0, 0, -1), nil
	case "5D":
		return now.AddDate(0, 0, -5), nil
	case "1W":
		return now.AddDate(0, 0, -7), nil
	case "1M":
		return now.AddDate(0, -1, 0), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown period %q", ErrInvalidRange, period)
	}
}

func trend(emails []Email) []SentimentPoint {
	type bucket struct{ sum, n int }
	buckets := map[string]*bucket{}
	var days []string
	// emails arrive newest first; walk backwards so days come out ascending
	for i := len(emails) - 1; i >= 0; i-- {
		day := emails[i].Time.UTC().Format(time.DateOnly)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
			days = append(days, day)
		}
		b.sum += emails[i].Score
		b.n++
	}

	points := make([]SentimentPoint, 0, len(days))
	for _, day := range days {
		b := buckets[day]
		points = append(points, SentimentPoint{
			Date:         day,
			AverageScore: float64(b.sum) / float64(b.n),
			Count:        b.n,
		})
	}
	return points
}

// Cleanup fills in missing subjects and senders and recomputes every type
// from its score. It returns how many emails were touched.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	all, err := s.store.List(ctx, Filter{})
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, nil
	}

	updates := make([]Update, 0, len(all))
	for _, e := range all {
		updates = append(updates, Update{
			ID:      e.ID,
			Subject: ptr(orDefault(e.Subject, PlaceholderSubject)),
			Sender:  ptr(orDefault(e.Sender, PlaceholderSender)),
			Type:    ptr(DetermineType(e.Score)),
		})
	}
	if err := s.store.BulkUpdate(ctx, updates); err != nil {
		return 0, err
	}
	slog.Info("Cleaned up emails", "count", len(updates))
	return len(updates), nil
}

// Ping checks the document store
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// IsClientError reports whether err was caused by bad caller input
func IsClientError(err error) bool {
	var ve *scorer.ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidType) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidID)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
