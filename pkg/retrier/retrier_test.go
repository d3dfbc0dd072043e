package retrier

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestRetrierDo(t *testing.T) {
	t.Run("first attempt", func(t *testing.T) {
		attempts := 0
		err := New().Do(context.Background(), func(context.Context) error {
			attempts++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("succeeds after retries", func(t *testing.T) {
		r := New(WithMaxRetries(3), WithInitialInterval(time.Millisecond))
		attempts := 0
		err := r.Do(context.Background(), func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("not yet")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("budget exhausted", func(t *testing.T) {
		r := New(WithMaxRetries(2), WithInitialInterval(time.Millisecond))
		attempts := 0
		err := r.Do(context.Background(), func(context.Context) error {
			attempts++
			return errors.New("down")
		})
		assert.EqualError(t, err, "down")
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent stops immediately", func(t *testing.T) {
		sentinel := errors.New("unauthorized")
		attempts := 0
		err := New(WithInitialInterval(time.Millisecond)).Do(context.Background(), func(context.Context) error {
			attempts++
			return Permanent(errors.Wrap(sentinel, "connect"))
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, attempts)
	})

	t.Run("unlimited ends with context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		r := New(WithMaxRetries(Unlimited), WithInitialInterval(time.Millisecond), WithMaxInterval(5*time.Millisecond))
		err := r.Do(ctx, func(context.Context) error { return errors.New("syncing") })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		err := New(WithInitialInterval(100*time.Millisecond)).Do(ctx, func(context.Context) error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errors.New("fail")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, attempts)
	})
}

func TestDoWithData(t *testing.T) {
	r := New(WithInitialInterval(time.Millisecond))
	calls := 0
	v, err := DoWithData(context.Background(), r, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("once")
		}
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)

	assert.Nil(t, Permanent(nil))
}
