package database

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestRetryWithBackoff(t *testing.T) {
	retryableErr := errors.New("locked")
	fatalErr := errors.New("corrupt")
	isRetryable := func(err error) bool { return errors.Is(err, retryableErr) }

	t.Run("succeeds after contention clears", func(t *testing.T) {
		is := is.New(t)
		var slept []time.Duration
		sleep := func(d time.Duration) { slept = append(slept, d) }

		calls := 0
		err := RetryWithBackoff(5, sleep, isRetryable, func() error {
			calls++
			if calls < 3 {
				return retryableErr
			}
			return nil
		})
		is.NoErr(err)
		is.Equal(calls, 3)
		// backoff grows with the square of the attempt number
		is.Equal(slept, []time.Duration{800 * time.Millisecond, 3200 * time.Millisecond})
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		is := is.New(t)
		calls := 0
		err := RetryWithBackoff(3, func(time.Duration) {}, isRetryable, func() error {
			calls++
			return retryableErr
		})
		is.True(err != nil)
		is.True(errors.Is(err, retryableErr))
		is.Equal(calls, 3)
	})

	t.Run("non retryable error returns immediately", func(t *testing.T) {
		is := is.New(t)
		calls := 0
		err := RetryWithBackoff(5, func(time.Duration) { t.Fatal("should not sleep") }, isRetryable, func() error {
			calls++
			return fatalErr
		})
		is.Equal(err, fatalErr)
		is.Equal(calls, 1)
	})
}
