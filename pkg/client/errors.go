package client

import (
	"fmt"
)

// HTTPStatusError is returned for a response outside the 2xx range
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %s", e.Status)
}

// RequestExhaustedError is returned once every attempt for a URL has failed
type RequestExhaustedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *RequestExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %s: %v", e.Attempts, e.URL, e.Err)
}

func (e *RequestExhaustedError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a response body is not valid JSON. It is never retried.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid JSON from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// InvalidResponseShapeError is returned when the tree listing is not a JSON array
type InvalidResponseShapeError struct {
	URL  string
	Kind string
}

func (e *InvalidResponseShapeError) Error() string {
	return fmt.Sprintf("invalid API response from %s: expected an array, got %s", e.URL, e.Kind)
}
