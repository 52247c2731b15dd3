package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrResponseShape: the provider answered, but not with exactly one
// non-empty choice.
var ErrResponseShape = errors.New("provider response shape")

// ResponseShapeError carries the raw response for diagnosis.
type ResponseShapeError struct {
	Provider string
	Reason   string
	Choices  int
	Raw      string
}

func (e *ResponseShapeError) Error() string {
	return fmt.Sprintf("%s: %s returned %d choice(s): %s; raw response: %s",
		ErrResponseShape, e.Provider, e.Choices, e.Reason, truncate(e.Raw, 2048))
}

func (e *ResponseShapeError) Unwrap() error { return ErrResponseShape }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ErrorClass categorizes provider errors for failover decisions.
type ErrorClass string

const (
	ErrorClassAuth            ErrorClass = "AUTH"
	ErrorClassRateLimit       ErrorClass = "RATE_LIMIT"
	ErrorClassTimeout         ErrorClass = "TIMEOUT"
	ErrorClassBilling         ErrorClass = "BILLING"
	ErrorClassContextOverflow ErrorClass = "CONTEXT_OVERFLOW"
	// ErrorClassShape: a well-formed call with an unusable answer.
	ErrorClassShape   ErrorClass = "RESPONSE_SHAPE"
	ErrorClassUnknown ErrorClass = "UNKNOWN"
)

// ClassifyError inspects a provider error and returns the most specific
// class that matches.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, ErrResponseShape) {
		return ErrorClassShape
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "401") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid key") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "403") {
		return ErrorClassAuth
	}

	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "too many requests") {
		return ErrorClassRateLimit
	}

	if strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") {
		return ErrorClassTimeout
	}

	if strings.Contains(msg, "billing") ||
		strings.Contains(msg, "payment") ||
		strings.Contains(msg, "insufficient funds") {
		return ErrorClassBilling
	}

	if strings.Contains(msg, "context_length") ||
		strings.Contains(msg, "context length") ||
		strings.Contains(msg, "token limit") ||
		strings.Contains(msg, "max tokens") ||
		strings.Contains(msg, "maximum context") ||
		strings.Contains(msg, "context window") {
		return ErrorClassContextOverflow
	}

	return ErrorClassUnknown
}
