package m3api

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error types used in RequestError.Type.
const (
	ErrorTypeNetwork    = "Network"
	ErrorTypeStatus     = "HTTPStatus"
	ErrorTypeDecode     = "Decode"
	ErrorTypeValidation = "Validation"
	ErrorTypeCancelled  = "Cancelled"
)

var (
	// ErrDefaultUserAgent is passed to the warning handler, once per
	// session, when a request is made without a user agent.
	ErrDefaultUserAgent = errors.New("m3api: sessions should set a user agent (WithUserAgent); see https://meta.wikimedia.org/wiki/User-Agent_policy")

	// ErrRemovedOption is passed to the warning handler when a request
	// uses an option that no longer has any effect.
	ErrRemovedOption = errors.New("m3api: removed option used")

	// ErrPagesConsumed is returned when a continuation sequence is
	// iterated a second time.
	ErrPagesConsumed = errors.New("m3api: continuation sequence already consumed")
)

// RequestError describes a failure outside the API response envelope:
// transport failures, non-200 responses, undecodable bodies and invalid
// configuration.
type RequestError struct {
	Type       string
	Message    string
	Cause      error
	StatusCode int
	Method     string
	RequestID  string
	Attempt    int
	Duration   time.Duration
}

// Error implements error.
func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 1 {
		msg = fmt.Sprintf("%s (attempt %d)", msg, e.Attempt)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*RequestError); ok {
		return e.Type == t.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *RequestError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Error Type: %s\n", e.Type)
	fmt.Fprintf(&b, "Message: %s\n", e.Message)
	if e.RequestID != "" {
		fmt.Fprintf(&b, "Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		fmt.Fprintf(&b, "Method: %s\n", e.Method)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, "Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		fmt.Fprintf(&b, "Attempt: %d\n", e.Attempt)
	}
	if e.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, "Cause: %v\n", e.Cause)
	}
	return b.String()
}

// APIErrors is returned when a response carries one or more errors that
// were not (or could no longer be) retried. It holds all of them.
type APIErrors struct {
	Errors []Object
}

// Error returns the code of the first error.
func (e *APIErrors) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "m3api: unknown API error"
	}
	code := e.Errors[0].Code()
	if code == "" {
		code = "unknown"
	}
	if len(e.Errors) > 1 {
		return fmt.Sprintf("%s (and %d more errors)", code, len(e.Errors)-1)
	}
	return code
}

// Codes returns the codes of all errors, in order.
func (e *APIErrors) Codes() []string {
	codes := make([]string, len(e.Errors))
	for i, obj := range e.Errors {
		codes[i] = obj.Code()
	}
	return codes
}

// HasCode reports whether any error has the given code.
func (e *APIErrors) HasCode(code string) bool {
	return hasErrorCode(e.Errors, code)
}

// APIWarnings is passed to the warning handler for every response that
// carries warnings. It is never returned from a request.
type APIWarnings struct {
	Warnings []Object
}

// Error returns the code (or text) of the first warning.
func (w *APIWarnings) Error() string {
	if w == nil || len(w.Warnings) == 0 {
		return "m3api: API warning"
	}
	first := w.Warnings[0]
	label := first.Code()
	if label == "" {
		label = first.Text()
	}
	if len(w.Warnings) > 1 {
		return fmt.Sprintf("m3api: API warning: %s (and %d more)", label, len(w.Warnings)-1)
	}
	return "m3api: API warning: " + label
}

// IsRetryable reports whether err is an API error the engine retries
// while time remains (maxlag, readonly or badtoken). Such errors only
// surface once the retry budget is exhausted.
func IsRetryable(err error) bool {
	var apiErrs *APIErrors
	if !errors.As(err, &apiErrs) {
		return false
	}
	return apiErrs.HasCode("maxlag") || apiErrs.HasCode("readonly") || apiErrs.HasCode("badtoken")
}
