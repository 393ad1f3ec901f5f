// Package faults defines the error taxonomy shared by the execution fabric.
// Every recovered failure is normalized into a Fault carrying a kind, a
// short machine-readable code and the wrapped original error.
package faults

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Kind categorizes an error for recovery-strategy selection
type Kind int

const (
	KindUnknown Kind = iota
	KindRetryable
	KindNonRetryable
	KindValidation
	KindTimeout
)

// String returns the log-friendly name of the kind
func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindNonRetryable:
		return "non_retryable"
	case KindValidation:
		return "validation"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Sentinel errors used by the processing pool submission path.
var (
	ErrNotRunning       = errors.New("pool is not running")
	ErrProcessorMissing = errors.New("processing function is not set")
	ErrQueueFull        = errors.New("job queue is full")
)

// Fault is a normalized error with kind and context attached
type Fault struct {
	kind    Kind
	code    string
	domain  string
	wrapped error
}

// Error implements the error interface
func (f *Fault) Error() string {
	if f.wrapped == nil {
		return f.code
	}
	return f.code + ": " + f.wrapped.Error()
}

// Unwrap exposes the original error to errors.Is/As
func (f *Fault) Unwrap() error { return f.wrapped }

// Kind returns the fault category
func (f *Fault) Kind() Kind { return f.kind }

// Code returns the machine-readable fault code
func (f *Fault) Code() string { return f.code }

// Domain returns the subsystem the fault originated from
func (f *Fault) Domain() string { return f.domain }

// New creates a fault of the given kind wrapping err
func New(kind Kind, domain, code string, err error) *Fault {
	return &Fault{kind: kind, code: code, domain: domain, wrapped: errors.WithStack(err)}
}

// Retryable wraps err as a transient fault
func Retryable(domain, code string, err error) *Fault {
	return New(KindRetryable, domain, code, err)
}

// NonRetryable wraps err as a permanent fault
func NonRetryable(domain, code string, err error) *Fault {
	return New(KindNonRetryable, domain, code, err)
}

// Validation wraps err as a bad-input fault
func Validation(domain, code string, err error) *Fault {
	return New(KindValidation, domain, code, err)
}

// Timeout wraps err as a deadline fault
func Timeout(domain, code string, err error) *Fault {
	return New(KindTimeout, domain, code, err)
}

// KindOf classifies an arbitrary error. Faults report their own kind;
// foreign errors are classified by message heuristics, defaulting to
// unknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.kind
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "temporarily unavailable") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "network"):
		return KindRetryable
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation"):
		return KindValidation
	}
	return KindUnknown
}

// IsRetryable reports whether err should be retried with backoff.
// Timeouts on transient I/O count as retryable for the order pipeline.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRetryable, KindTimeout:
		return true
	}
	return false
}

// Normalize wraps a foreign error into a Fault with its inferred kind.
// Faults pass through unchanged.
func Normalize(domain string, err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return New(KindOf(err), domain, "normalized_error", err)
}
