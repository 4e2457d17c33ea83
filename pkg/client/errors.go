package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/tap-searchstax/pkg/auth"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts for a transient
	// failure are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 401 and 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassAuth represents 401 Unauthorized.
	ErrorClassAuth ErrorClass = "auth"
)

// APIError is a failed attempt carrying its classification. Transient
// APIErrors are retried; the last one is wrapped into ErrRetryExhausted.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string

	// RetryAfter is the server requested minimum wait before the next attempt.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("searchstax %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("searchstax %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// RequestError is a non-retryable rejection of a request (4xx). It fails
// the resource being extracted.
type RequestError struct {
	StatusCode int
	Method     string
	URL        string

	// Body is a truncated copy of the response body.
	Body string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("request rejected (status %d): %s %s: %s", e.StatusCode, e.Method, e.URL, e.Body)
	}
	return fmt.Sprintf("request rejected (status %d): %s %s", e.StatusCode, e.Method, e.URL)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// client errors are permanent; auth errors get their own single
		// re-authentication in Execute.
		return false
	}
}

// classifyStatus maps an HTTP status to an error class. 2xx and 3xx yield "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 401:
		return ErrorClassAuth
	case status == 429:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// classifyError extracts the class of an attempt error. Cancellation and
// token exchange failures yield no class and are never retried.
func classifyError(err error) ErrorClass {
	if errors.Is(err, ErrContextCancelled) {
		return ""
	}
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return ErrorClassClient
	}
	return ErrorClassNetwork
}
