package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRateLimited is the distinguished rate limit signal (HTTP 429).
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound is returned when the ticket does not exist (HTTP 404).
	ErrNotFound = errors.New("ticket not found")

	// ErrMalformedPayload is returned when the response body is not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrMissingField is returned when a document lacks a required field.
	ErrMissingField = errors.New("missing required field")

	// ErrBadTimestamp is returned when the update timestamp cannot be parsed.
	ErrBadTimestamp = errors.New("invalid update timestamp")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 404 and 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassNotFound represents 404 responses.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassPayload represents undecodable response bodies.
	ErrorClassPayload ErrorClass = "payload"
)

// APIError represents a Freshservice error response with additional context.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("freshservice %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("freshservice %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is maps the error class onto the package sentinels so callers can test
// errors.Is(err, ErrRateLimited) without inspecting status codes.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.ErrorClass == ErrorClassRateLimit
	case ErrNotFound:
		return e.ErrorClass == ErrorClassNotFound
	case ErrMalformedPayload:
		return e.ErrorClass == ErrorClassPayload
	}
	return false
}

// IsRateLimited reports whether err carries the rate limit signal.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// ClassOf returns the ErrorClass of err, or ErrorClassNetwork for errors that
// did not come from a response.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ErrorClassNetwork
}

// classifyStatus categorizes an HTTP status code.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusNotFound:
		return ErrorClassNotFound
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
