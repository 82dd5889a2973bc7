package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbergen/convoy/internal/remote"
)

func fastRetrier(maxAttempts int) Retrier {
	return Retrier{MaxAttempts: maxAttempts, Base: time.Millisecond}
}

func TestRetrierSucceedsAfterFailures(t *testing.T) {
	var calls int
	attempts, err := fastRetrier(5).Do(context.Background(), func(context.Context) error {
		calls++
		if calls <= 2 {
			return &remote.StatusError{StatusCode: 503, Body: "unavailable"}
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestRetrierFirstAttemptSucceeds(t *testing.T) {
	attempts, err := fastRetrier(3).Do(context.Background(), func(context.Context) error {
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrierExhausted(t *testing.T) {
	attempts, err := fastRetrier(3).Do(context.Background(), func(context.Context) error {
		return &remote.StatusError{StatusCode: 500, Body: "boom"}
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.StatusCode)
}

func TestRetrierPermanentFailure(t *testing.T) {
	attempts, err := fastRetrier(5).Do(context.Background(), func(context.Context) error {
		return &remote.StatusError{StatusCode: 403, Body: "forbidden"}
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "4xx must not be retried")
}

func TestRetrierNotifySeesEveryRetryableFailure(t *testing.T) {
	var notified []error
	_, err := fastRetrier(3).Do(context.Background(), func(context.Context) error {
		return errors.New("connection reset")
	}, func(err error) {
		notified = append(notified, err)
	})

	require.Error(t, err)
	// Two sleeps between three attempts.
	assert.Len(t, notified, 2)
}

func TestRetrierContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retrier{MaxAttempts: 3, Base: time.Minute}.Do(ctx, func(context.Context) error {
		return errors.New("transient")
	}, nil)
	require.Error(t, err)
}

func TestRetrierBackoffDoubles(t *testing.T) {
	base := 10 * time.Millisecond
	start := time.Now()

	_, err := Retrier{MaxAttempts: 3, Base: base}.Do(context.Background(),
		func(context.Context) error { return errors.New("transient") }, nil)
	require.Error(t, err)

	// Sleeps of base and 2*base: at least 30ms total.
	assert.GreaterOrEqual(t, time.Since(start), 3*base)
}
