// Package email stores inbound emails with their sentiment and answers the
// dashboard queries built on them.
package email

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("email not found")
	ErrInvalidType  = errors.New("invalid sentiment type")
	ErrInvalidRange = errors.New("invalid date range")
	ErrInvalidID    = errors.New("invalid email id")
)

// StorageError reports a failed document store operation. It aborts the
// operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("email store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Type is the sentiment bucket an email falls into
type Type string

const (
	TypePositive Type = "positive"
	TypeNeutral  Type = "neutral"
	TypeNegative Type = "negative"
)

const (
	PositiveThreshold = 75 // scores at or above are positive
	NegativeThreshold = 25 // scores at or below are negative
)

// DetermineType buckets a score
func DetermineType(score int) Type {
	switch {
	case score >= PositiveThreshold:
		return TypePositive
	case score <= NegativeThreshold:
		return TypeNegative
	default:
		return TypeNeutral
	}
}

// ParseType accepts a sentiment type in any letter case
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypePositive, TypeNeutral, TypeNegative:
		return t, nil
	default:
		return "", fmt.Errorf("%w %q: use positive, negative or neutral", ErrInvalidType, s)
	}
}

// Email is a stored message with its sentiment
type Email struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver"`
	Time           time.Time `json:"time"`
	Score          int       `json:"score"`
	Type           Type      `json:"type"`
	SentimentScore *int      `json:"sentimentScore,omitempty"` // set by batch analysis
}

// Inbound is an email as delivered by the mail relay
type Inbound struct {
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	SenderEmail   string    `json:"senderEmail"`
	ReceiverEmail string    `json:"receiverEmail"`
	Time          time.Time `json:"time"`
}

// Filter selects emails. Zero fields do not constrain.
type Filter struct {
	Type     Type
	Sender   string
	MinScore *int
	MaxScore *int
	From     time.Time
	To       time.Time
}

// Matches reports whether e passes the filter
func (f Filter) Matches(e Email) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Sender != "" && e.Sender != f.Sender {
		return false
	}
	if f.MinScore != nil && e.Score < *f.MinScore {
		return false
	}
	if f.MaxScore != nil && e.Score > *f.MaxScore {
		return false
	}
	if !f.From.IsZero() && e.Time.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Time.After(f.To) {
		return false
	}
	return true
}

// Update sets the non-nil fields on one stored email
type Update struct {
	ID             string
	Subject        *string
	Sender         *string
	Type           *Type
	Score          *int
	SentimentScore *int
}

// Apply copies the set fields onto e
func (u Update) Apply(e *Email) {
	if u.Subject != nil {
		e.Subject = *u.Subject
	}
	if u.Sender != nil {
		e.Sender = *u.Sender
	}
	if u.Type != nil {
		e.Type = *u.Type
	}
	if u.Score != nil {
		e.Score = *u.Score
	}
	if u.SentimentScore != nil {
		v := *u.SentimentScore
		e.SentimentScore = &v
	}
}

// DashboardStats summarises every stored email
type DashboardStats struct {
	TotalEmails    int            `json:"totalEmails"`
	PositiveEmails int            `json:"positiveEmails"`
	NegativeEmails int            `json:"negativeEmails"`
	NeutralEmails  int            `json:"neutralEmails"`
	AverageScore   float64        `json:"averageScore"`
	LastUpdated    time.Time      `json:"lastUpdated"`
	RecentEmails   []EmailSummary `json:"recentEmails"`
}

// EmailSummary is the dashboard view of one email
type EmailSummary struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	Sender  string    `json:"sender"`
	Score   int       `json:"score"`
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
}

// SentimentPoint is the average score of one day
type SentimentPoint struct {
	Date         string  `json:"date"` // YYYY-MM-DD, UTC
	AverageScore float64 `json:"averageScore"`
	Count        int     `json:"count"`
}

func ptr[T any](v T) *T { return &v }
