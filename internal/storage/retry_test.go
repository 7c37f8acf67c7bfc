package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

func TestWritePolicyRetriesUntilSuccess(t *testing.T) {
	p := WritePolicy{Timeout: time.Second, Retries: 2, Backoff: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), "test", nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWritePolicyGivesUp(t *testing.T) {
	p := WritePolicy{Timeout: time.Second, Retries: 2, Backoff: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), "test", nil, func(ctx context.Context) error {
		calls++
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 3, calls)
}

func TestWritePolicyStopsOnPermanentError(t *testing.T) {
	p := WritePolicy{Timeout: time.Second, Retries: 5, Backoff: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), "test", func(err error) bool { return errors.Is(err, ErrConflict) },
		func(ctx context.Context) error {
			calls++
			return ErrConflict
		})
	require.ErrorIs(t, err, ErrConflict)
	require.Equal(t, 1, calls)
}

func TestWritePolicyIgnoresCallerCancellation(t *testing.T) {
	p := WritePolicy{Timeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Do(ctx, "test", nil, func(ctx context.Context) error {
		require.NoError(t, ctx.Err())
		_, hasDeadline := ctx.Deadline()
		require.True(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)
}
