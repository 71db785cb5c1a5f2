package scorer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationOptions configures content validation behavior
type ValidationOptions struct {
	MaxLength      int
	MinLength      int
	TrimWhitespace bool
}

// DefaultValidationOptions returns sensible defaults for content validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxLength:      DefaultMaxContentLength,
		MinLength:      MinContentLength,
		TrimWhitespace: true,
	}
}

// ValidateContent checks a single text against opts
func ValidateContent(content string, opts ValidationOptions) error {
	check := content
	if opts.TrimWhitespace {
		check = strings.TrimSpace(content)
	}

	n := utf8.RuneCountInString(check)
	var issues []string
	if n == 0 {
		issues = append(issues, "content is empty")
	} else if n < opts.MinLength {
		issues = append(issues, fmt.Sprintf("content too short (%d chars, minimum %d)", n, opts.MinLength))
	}
	if opts.MaxLength > 0 && n > opts.MaxLength {
		return &ValidationError{
			Issues: []string{fmt.Sprintf("content too long (%d chars, maximum %d)", n, opts.MaxLength)},
			Err:    ErrContentTooLong,
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// ValidateRequests checks that every request has an ID and that IDs are unique.
// Content is not checked; an empty text is still a text to score.
func ValidateRequests(requests []ScoreRequest) error {
	seen := make(map[string]int, len(requests))
	var issues []string
	var cause error

	for i, req := range requests {
		if req.ID == "" {
			issues = append(issues, fmt.Sprintf("request at index %d has an empty ID", i))
			continue
		}
		if first, dup := seen[req.ID]; dup {
			issues = append(issues, fmt.Sprintf("request ID %q at index %d repeats index %d", req.ID, i, first))
			cause = ErrDuplicateID
			continue
		}
		seen[req.ID] = i
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues, Err: cause}
	}
	return nil
}
