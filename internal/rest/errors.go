package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDispatcherClosed = errors.New("rest: dispatcher shut down")
	ErrRetriesExhausted = errors.New("rest: retries exhausted")
	ErrClientError      = errors.New("rest: client error")
	ErrInvalidRoute     = errors.New("rest: invalid route")
	ErrBaseURLRequired  = errors.New("rest: base url required")
)

// HTTPError is a non-retryable 4xx response (anything except 429).
type HTTPError struct {
	Method  string
	Route   string
	Status  int
	Code    int
	Message string
	Body    []byte
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rest: %s %s: %d %s (code=%d)", e.Method, e.Route, e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("rest: %s %s: %d %s", e.Method, e.Route, e.Status, strings.TrimSpace(string(e.Body)))
}

// Is lets callers match any HTTPError with errors.Is(err, ErrClientError).
func (e *HTTPError) Is(target error) bool {
	return target == ErrClientError
}

func newHTTPError(method, route string, resp *Response) *HTTPError {
	e := &HTTPError{
		Method: method,
		Route:  route,
		Status: resp.Status,
		Body:   resp.Body,
	}
	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(resp.Body, &body) == nil {
		e.Code = body.Code
		e.Message = body.Message
	}
	return e
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
