package scorer

import (
	"errors"
	"fmt"
	"strings"
)

// Error definitions
var (
	ErrNoCredentials  = errors.New("no API credentials available")
	ErrEmptyResponse  = errors.New("API returned no choices")
	ErrNoScore        = errors.New("reply contains no integer score")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrEmptyInput     = errors.New("input items cannot be empty")
	ErrDuplicateID    = errors.New("duplicate request ID")
	ErrContentTooLong = errors.New("content exceeds maximum length")
)

// ConfigurationError reports a setting the scoring stack cannot run with.
// It aborts whatever operation hit it.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func newConfigError(field, msg string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: msg, Err: ErrInvalidConfig}
}

// ClassificationError is returned when a single text could not be scored:
// transport failure, non-success response, or an unparsable reply.
// Within a batch it only affects the item it belongs to.
type ClassificationError struct {
	Reason string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classification failed: %s: %v", e.Reason, e.Err)
	}
	return "classification failed: " + e.Reason
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// CacheReadError wraps a cache store failure on lookup.
type CacheReadError struct {
	Key CacheKey
	Err error
}

func (e *CacheReadError) Error() string {
	return fmt.Sprintf("cache read %s: %v", e.Key, e.Err)
}

func (e *CacheReadError) Unwrap() error { return e.Err }

// CacheWriteError wraps a cache store failure on write.
type CacheWriteError struct {
	Key CacheKey
	Err error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache write %s: %v", e.Key, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// ValidationError lists the problems found in caller-supplied input.
type ValidationError struct {
	Issues []string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "validation failed"
	if len(e.Issues) > 0 {
		msg += ": " + strings.Join(e.Issues, "; ")
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsClassificationError reports whether err carries a ClassificationError.
func IsClassificationError(err error) bool {
	var ce *ClassificationError
	return errors.As(err, &ce)
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
