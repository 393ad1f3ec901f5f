package faults

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultWrapsAndUnwraps(t *testing.T) {
	base := errors.New("insufficient margin")
	fault := NonRetryable("exchange", "insufficient_margin", base)

	assert.Equal(t, KindNonRetryable, fault.Kind())
	assert.Equal(t, "insufficient_margin", fault.Code())
	assert.Equal(t, "exchange", fault.Domain())
	assert.Contains(t, fault.Error(), "insufficient margin")
	assert.True(t, errors.Is(fault, base))
}

func TestKindOfFaults(t *testing.T) {
	assert.Equal(t, KindRetryable, KindOf(Retryable("exchange", "rate_limited", errors.New("x"))))
	assert.Equal(t, KindTimeout, KindOf(Timeout("pool", "job_timeout", errors.New("x"))))
	assert.Equal(t, KindValidation, KindOf(Validation("execution", "nil_order", errors.New("x"))))
	assert.Equal(t, KindUnknown, KindOf(nil))

	// a wrapped fault still reports its own kind
	wrapped := fmt.Errorf("placing order: %w", Retryable("exchange", "rate_limited", errors.New("x")))
	assert.Equal(t, KindRetryable, KindOf(wrapped))
}

func TestKindOfForeignErrors(t *testing.T) {
	cases := []struct {
		msg  string
		kind Kind
	}{
		{"job timeout after 5s", KindTimeout},
		{"context deadline exceeded", KindTimeout},
		{"rate limit exceeded", KindRetryable},
		{"too many requests", KindRetryable},
		{"connection refused", KindRetryable},
		{"connection reset by peer", KindRetryable},
		{"service unavailable", KindRetryable},
		{"invalid symbol", KindValidation},
		{"something else entirely", KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindOf(errors.New(tc.msg)), tc.msg)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Retryable("exchange", "rate_limited", errors.New("x"))))
	// transient timeouts are retried by the order pipeline
	assert.True(t, IsRetryable(Timeout("exchange", "slow", errors.New("x"))))
	assert.False(t, IsRetryable(NonRetryable("exchange", "bad_symbol", errors.New("x"))))
	assert.False(t, IsRetryable(Validation("execution", "nil_order", errors.New("x"))))
	assert.False(t, IsRetryable(errors.New("something else entirely")))
	assert.False(t, IsRetryable(nil))
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, Normalize("exchange", nil))

	fault := Retryable("exchange", "rate_limited", errors.New("x"))
	assert.Same(t, fault, Normalize("other", fault))

	normalized := Normalize("exchange", errors.New("connection refused"))
	require.NotNil(t, normalized)
	assert.Equal(t, KindRetryable, normalized.Kind())
	assert.Equal(t, "exchange", normalized.Domain())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "retryable", KindRetryable.String())
	assert.Equal(t, "non_retryable", KindNonRetryable.String())
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
