package integrations

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError is returned when WeKan rejects our credentials, or a request still
// gets a 401 after the one allowed re-authentication. Never retried further.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("wekan authentication failed: status=%d body=%s", e.Status, e.Body)
}

// ConflictError indicates the resource already exists. Callers doing
// find-or-create treat it as success-equivalent and re-resolve with a find.
type ConflictError struct {
	Status int
	Body   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("wekan resource conflict: status=%d body=%s", e.Status, e.Body)
}

// APIError is a terminal client error (4xx other than 401/409/429).
// Retrying a malformed request cannot succeed, so these surface immediately.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wekan api error: status=%d body=%s", e.Status, e.Body)
}

// TransientError covers connection failures, timeouts, 429 and 5xx responses.
// Subject to the retry policy.
type TransientError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wekan transient error: %v", e.Err)
	}
	return fmt.Sprintf("wekan transient error: status=%d body=%s", e.Status, e.Body)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether the error should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classifyStatus maps a non-2xx response to the error taxonomy.
func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized:
		return &AuthError{Status: status, Body: body}
	case status == http.StatusConflict:
		return &ConflictError{Status: status, Body: body}
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Status: status, Body: body}
	default:
		return &APIError{Status: status, Body: body}
	}
}
