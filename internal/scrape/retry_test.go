package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type permanentNetErr struct{}

func (permanentNetErr) Error() string   { return "connection refused" }
func (permanentNetErr) Timeout() bool   { return false }
func (permanentNetErr) Temporary() bool { return false }

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	p := NewExponentialRetryPolicy()

	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(errors.New("boom"), 1))
	require.False(t, p.ShouldRetry(errors.New("boom"), 3), "attempts are capped")
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	require.True(t, p.ShouldRetry(timeoutErr{}, 1))
	require.False(t, p.ShouldRetry(permanentNetErr{}, 1), "non-timeout network errors are terminal")
}

func TestExponentialRetryPolicyBackoffIsBounded(t *testing.T) {
	p := NewRetryPolicy(5, 100*time.Millisecond, time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Backoff(attempt)
		require.Positive(t, d)
		require.LessOrEqual(t, d, time.Second)
	}
}

func TestWithRetryStopsAfterSuccess(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), NewRetryPolicy(3, time.Millisecond, time.Millisecond),
		func(context.Context) error {
			calls++
			if calls < 2 {
				return errors.New("transient")
			}
			return nil
		})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestWithRetryReturnsLastError(t *testing.T) {
	wantErr := errors.New("still broken")
	calls := 0
	err := WithRetry(context.Background(), NewRetryPolicy(3, time.Millisecond, time.Millisecond),
		func(context.Context) error {
			calls++
			return wantErr
		})
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 3, calls)
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := WithRetry(ctx, NewExponentialRetryPolicy(), func(context.Context) error {
		calls++
		return errors.New("never reached")
	})
	require.Error(t, err)
	require.Zero(t, calls)
}
