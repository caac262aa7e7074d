package retrier

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetrier(maxRetries int) *Retrier {
	return New(
		WithInitialInterval(time.Millisecond),
		WithMaxInterval(5*time.Millisecond),
		WithMaxRetries(maxRetries),
	)
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := fastRetrier(3).Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	attempts := 0
	err := fastRetrier(2).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("still down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	cause := errors.New("bad request")
	err := fastRetrier(5).Do(context.Background(), func(context.Context) error {
		attempts++
		return Permanent(errors.Wrap(cause, "upstream rejected"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, cause), "the wrapped cause survives unwrapping")
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := New(WithInitialInterval(time.Minute), WithMaxRetries(1))

	done := make(chan error, 1)
	go func() {
		done <- slow.Do(ctx, func(context.Context) error {
			return errors.New("transient")
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestPermanentNilStaysNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
