package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JohnPlummer/sentimatrix/email"
	"github.com/JohnPlummer/sentimatrix/scorer"
)

type processedEmail struct {
	ID        string     `json:"id"`
	Subject   string     `json:"subject"`
	Sender    string     `json:"sender"`
	Score     int        `json:"score"`
	Type      email.Type `json:"type"`
	Response  string     `json:"response"`
	Timestamp time.Time  `json:"timestamp"`
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Score int        `json:"score"`
	Type  email.Type `json:"type"`
}

type analyzedScore struct {
	ID     string        `json:"id"`
	Score  int           `json:"score"`
	Origin scorer.Origin `json:"origin"`
}

type analyzeFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type analyzeResponse struct {
	Results   []analyzedScore  `json:"results"`
	Failures  []analyzeFailure `json:"failures"`
	FailedIDs []string         `json:"failedIds"`
}

type batchResponse struct {
	Emails    []email.Email    `json:"emails"`
	Failures  []analyzeFailure `json:"failures"`
	FailedIDs []string         `json:"failedIds"`
}

type cleanupResponse struct {
	Updated int `json:"updated"`
}

func (s *Server) processEmail(c echo.Context) error {
	var in email.Inbound
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid email payload")
	}

	p, err := s.service.Process(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, processedEmail{
		ID:        p.ID,
		Subject:   p.Subject,
		Sender:    p.Sender,
		Score:     p.Score,
		Type:      p.Type,
		Response:  p.Response,
		Timestamp: p.Time,
	})
}

func (s *Server) processBatch(c echo.Context) error {
	var in []email.Inbound
	if err := (&echo.DefaultBinder{}).BindBody(c, &in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON list of emails")
	}
	if len(in) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "batch must contain at least one email")
	}

	stored, res, err := s.service.IngestBatch(c.Request().Context(), in)
	if err != nil {
		return err
	}

	out := batchResponse{
		Emails:    nonNil(stored),
		Failures:  failures(res.Failures),
		FailedIDs: res.FailedIDs(),
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) classify(c echo.Context) error {
	var req classifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid classify payload")
	}

	score, err := s.service.Classify(c.Request().Context(), req.Text)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, classifyResponse{Score: score, Type: email.DetermineType(score)})
}

func (s *Server) analyzeEmails(c echo.Context) error {
	var ids []string
	if err := (&echo.DefaultBinder{}).BindBody(c, &ids); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON list of email ids")
	}

	res, err := s.service.AnalyzeByIDs(c.Request().Context(), ids)
	if err != nil {
		return err
	}

	out := analyzeResponse{
		Results:   make([]analyzedScore, 0, len(res.Results)),
		Failures:  failures(res.Failures),
		FailedIDs: res.FailedIDs(),
	}
	for _, r := range res.Results {
		out.Results = append(out.Results, analyzedScore{ID: r.ID, Score: r.Score, Origin: r.Origin})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listEmails(c echo.Context) error {
	emails, err := s.service.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(emails))
}

func (s *Server) getEmail(c echo.Context) error {
	e, err := s.service.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) deleteEmail(c echo.Context) error {
	if err := s.service.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) emailsBySentiment(c echo.Context) error {
	t, err := email.ParseType(c.Param("type"))
	if err != nil {
		return err
	}
	emails, err := s.service.BySentiment(c.Request().Context(), t)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(emails))
}

// emailsOfType serves a fixed sentiment type, for routes that name it in the path
func (s *Server) emailsOfType(t email.Type) echo.HandlerFunc {
	return func(c echo.Context) error {
		emails, err := s.service.BySentiment(c.Request().Context(), t)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, nonNil(emails))
	}
}

func (s *Server) emailsBySender(c echo.Context) error {
	emails, err := s.service.BySender(c.Request().Context(), c.Param("sender"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(emails))
}

func (s *Server) emailsByDate(c echo.Context) error {
	from, to, err := s.dateRange(c, email.DefaultListWindow)
	if err != nil {
		return err
	}
	emails, err := s.service.ByDateRange(c.Request().Context(), from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(emails))
}

func (s *Server) dashboardStats(c echo.Context) error {
	stats, err := s.service.DashboardStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) sentimentTrend(c echo.Context) error {
	from, to, err := s.dateRange(c, email.DefaultTrendWindow)
	if err != nil {
		return err
	}
	points, err := s.service.SentimentTrend(c.Request().Context(), from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, points)
}

func (s *Server) sentimentForPeriod(c echo.Context) error {
	points, err := s.service.TrendForPeriod(c.Request().Context(), c.Param("period"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, points)
}

func (s *Server) cleanup(c echo.Context) error {
	n, err := s.service.Cleanup(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cleanupResponse{Updated: n})
}

// dateRange reads startDate and endDate, falling back to the last window.
// A missing end defaults to now and a missing start to end minus window.
func (s *Server) dateRange(c echo.Context, window time.Duration) (time.Time, time.Time, error) {
	defFrom, defTo := s.service.DefaultRange(window)

	to := defTo
	if raw := c.QueryParam("endDate"); raw != "" {
		t, err := parseDate(raw, true)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}

	from := defFrom
	if raw := c.QueryParam("startDate"); raw != "" {
		t, err := parseDate(raw, false)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	} else if c.QueryParam("endDate") != "" {
		from = to.Add(-window)
	}
	return from, to, nil
}

// parseDate accepts RFC3339 or a bare date. A bare end date covers the whole day.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: cannot parse date %q", email.ErrInvalidRange, raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func nonNil(emails []email.Email) []email.Email {
	if emails == nil {
		return []email.Email{}
	}
	return emails
}

func failures(in []scorer.ItemFailure) []analyzeFailure {
	out := make([]analyzeFailure, 0, len(in))
	for _, f := range in {
		out = append(out, analyzeFailure{ID: f.ID, Error: f.Err.Error()})
	}
	return out
}
