package budget

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorKind is the normalized classification of a remote-client error.
// Classification happens once, at the retry executor boundary; decision
// logic everywhere else inspects the kind, never the raw error text.
type ErrorKind string

const (
	KindRateLimit  ErrorKind = "rate_limit"
	KindNetwork    ErrorKind = "network"
	KindAuth       ErrorKind = "auth"
	KindDecryption ErrorKind = "decryption"
	KindUnknown    ErrorKind = "unknown"
)

// Error is the single normalized error shape for budgeting-client failures.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates a classified error.
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WrapError classifies err under the given kind, preserving the cause.
func WrapError(kind ErrorKind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: err.Error(), cause: err}
}

// Classify normalizes an arbitrary error into *Error. Already-classified
// errors pass through unchanged. Network-class failures (connection reset,
// DNS resolution, timeouts, the remote's literal "network-failure" signal)
// classify as KindNetwork; everything unrecognized is KindUnknown.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}

	if isNetworkError(err) {
		return WrapError(KindNetwork, "", err)
	}

	return WrapError(KindUnknown, "", err)
}

// isNetworkError reports whether err is a transport-level failure
func isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// The remote client library reports some transport failures only as a
	// literal message.
	msg := err.Error()
	return strings.Contains(msg, "network-failure") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host")
}

// IsRetryable reports whether a classified error is safe to retry:
// rate-limit responses and network-class failures are transient, everything
// else (auth, decryption, malformed requests) fails the same way every time.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	kind := Classify(err).Kind
	return kind == KindRateLimit || kind == KindNetwork
}
