package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeUpstream     = "UPSTREAM_ERROR"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Details: details,
	})
}

// ErrNotFound marks operations that require an entity to pre-exist,
// e.g. activating an organization the user is not a member of. Surfaced
// to interactive callers as a message, never retried.
var ErrNotFound = errors.New("not found")

// Is reports whether any error in err's chain matches target, so callers
// of this package don't need a second errors import for the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// ValidationError reports payload keys that are required but missing.
// Raised before any mutation; retrying without fixing the payload is
// pointless.
type ValidationError struct {
	Missing []string
}

func NewValidation(missing ...string) *ValidationError {
	sort.Strings(missing)
	return &ValidationError{Missing: missing}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError wraps a transport-level failure talking to the
// identity provider. The task layer retries these with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried by the task layer.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// UpstreamError is a non-success response from the identity provider.
// Not retried automatically; the status and detail are surfaced.
type UpstreamError struct {
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("provider returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("provider returned HTTP %d: %s", e.Status, e.Detail)
}
