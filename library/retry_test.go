package library

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_RetryPolicy_RetriesBusyUntilSuccess(t *testing.T) {
	p, err := newRetryPolicy(5, time.Millisecond)
	require.NoError(t, err)

	calls := 0
	err = p.do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("begin: %w", sqlite3.Error{Code: sqlite3.ErrBusy})
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func Test_RetryPolicy_DomainErrorsFailFast(t *testing.T) {
	p := defaultRetryPolicy()

	calls := 0
	err := p.do(context.Background(), func(context.Context) error {
		calls++
		return ErrOutOfStock
	})

	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, 1, calls)
}

func Test_RetryPolicy_GivesUpAfterMaxAttempts(t *testing.T) {
	p, err := newRetryPolicy(3, 0)
	require.NoError(t, err)

	calls := 0
	busy := sqlite3.Error{Code: sqlite3.ErrLocked}
	err = p.do(context.Background(), func(context.Context) error {
		calls++
		return busy
	})

	assert.True(t, isBusy(err))
	assert.Equal(t, 3, calls)
}

func Test_RetryPolicy_StopsOnCancelledContext(t *testing.T) {
	p, err := newRetryPolicy(5, time.Hour)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err = p.do(ctx, func(context.Context) error {
		calls++
		cancel()
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	})

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func Test_NewRetryPolicy_Validation(t *testing.T) {
	_, err := newRetryPolicy(0, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	_, err = newRetryPolicy(1, -time.Millisecond)
	assert.ErrorIs(t, err, ErrNegativeBaseDelay)
}
