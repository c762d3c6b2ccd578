package helpers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	retry := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	attempts := 0
	err := retry.Do(context.Background(), "flaky", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	retry := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	attempts := 0
	cause := errors.New("down")
	err := retry.Do(context.Background(), "broken", func() error {
		attempts++
		return cause
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "broken failed after 3 attempts")
	assert.ErrorIs(t, err, cause)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	retry := RetryConfig{MaxAttempts: 5, BaseDelay: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := retry.Do(ctx, "cancelled", func() error {
		attempts++
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
