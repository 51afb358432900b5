package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// ErrNotFound marks a legitimately empty provider answer. It is an outcome,
// not a failure.
var ErrNotFound = eris.New("not found")

// ErrUnsupported is returned when a provider lacks the requested capability.
var ErrUnsupported = eris.New("capability not supported")

// ErrSkipped is returned for requests that already exhausted every provider
// earlier in the same run.
var ErrSkipped = eris.New("skipped")

// TransientError wraps an error that may succeed later (429, 5xx, timeouts).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// AuthError means the provider rejected or is missing credentials. The
// provider should not be called again for the rest of the run.
type AuthError struct {
	Provider   string
	StatusCode int
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: missing credentials", e.Provider)
	}
	return fmt.Sprintf("%s: authentication failed (status %d)", e.Provider, e.StatusCode)
}

// FatalError is a malformed request or an unusable response. Retrying the
// same call will not help.
type FatalError struct {
	Err        error
	StatusCode int
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps err as fatal.
func NewFatalError(err error, statusCode int) *FatalError {
	return &FatalError{Err: err, StatusCode: statusCode}
}

// StatusError converts a non-2xx HTTP status into the matching error kind.
func StatusError(provider string, statusCode int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &AuthError{Provider: provider, StatusCode: statusCode}
	case statusCode == http.StatusNotFound:
		return eris.Wrapf(ErrNotFound, "%s: status %d", provider, statusCode)
	case IsTransientHTTPStatus(statusCode):
		return NewTransientError(eris.Errorf("%s: status %d: %s", provider, statusCode, snippet), statusCode)
	default:
		return NewFatalError(eris.Errorf("%s: status %d: %s", provider, statusCode, snippet), statusCode)
	}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or looks like a network-level failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true for statuses that are safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Outcome is the result variant of a provider call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeTransient
	OutcomeAuth
	OutcomeFatal
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeTransient:
		return "transient"
	case OutcomeAuth:
		return "auth"
	case OutcomeFatal:
		return "fatal"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a provider to its outcome. Errors that
// match none of the known kinds are treated as transient so the next run
// can retry them.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, ErrNotFound) {
		return OutcomeNotFound
	}
	if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrSkipped) {
		return OutcomeSkipped
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return OutcomeAuth
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return OutcomeFatal
	}
	return OutcomeTransient
}
