package retry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrExhausted marks a call that used its whole attempt budget.
var ErrExhausted = errors.New("retry: attempts exhausted")

// StatusError is a non-2xx response from the external API.
type StatusError struct {
	StatusCode int
	// RetryAfter is the server's cooldown hint, if it sent one.
	RetryAfter    time.Duration
	HasRetryAfter bool
	Body          string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("external api: status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("external api: status %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// NewStatusError builds a StatusError from a response, capturing any wait hint.
func NewStatusError(resp *http.Response, body string, now time.Time) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode, Body: body}
	se.RetryAfter, se.HasRetryAfter = ParseWaitHint(resp.Header, now)
	return se
}

// TerminalError is a failure the client did not retry.
type TerminalError struct {
	Op  string
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// ExhaustedError is returned after every attempt failed with a retryable error.
// It unwraps to the last underlying failure.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Last} }

// StatusCode reports the HTTP status behind err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsRetryable reports whether err is a transient failure worth another attempt:
// 429, 5xx, connection failures and per-attempt timeouts. parent is the
// caller's context; a timeout caused by the caller giving up is not retryable.
func IsRetryable(parent context.Context, err error) bool {
	if err == nil {
		return false
	}
	if parent != nil && parent.Err() != nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}

	if isCertificateError(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	// *url.Error satisfies net.Error for every transport failure, including a
	// bad scheme, so only socket-level errors and timeouts count.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isCertificateError matches TLS verification failures, which another
// attempt cannot fix.
func isCertificateError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalid          x509.CertificateInvalidError
		hostname         x509.HostnameError
		verification     *tls.CertificateVerificationError
		recordHeader     tls.RecordHeaderError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &invalid) ||
		errors.As(err, &hostname) ||
		errors.As(err, &verification) ||
		errors.As(err, &recordHeader)
}
