package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(opts Options) (*RedisLocker, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLocker(db, "checkout:lock:", opts)
	l.tokenFn = func() string { return "token-1" }
	return l, mock
}

func TestRedisObtainAndRelease(t *testing.T) {
	l, mock := newRedisLocker(Options{})
	mock.ExpectSetNX("checkout:lock:guard", "token-1", 30*time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"checkout:lock:guard"}, "token-1").SetVal(int64(1))

	lk, err := l.Obtain(context.Background(), "guard", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, lk.Release(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisObtainHeldKey(t *testing.T) {
	l, mock := newRedisLocker(Options{})
	mock.ExpectSetNX("checkout:lock:guard", "token-1", time.Second).SetVal(false)

	_, err := l.Obtain(context.Background(), "guard", time.Second)

	assert.ErrorIs(t, err, ErrNotObtained)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisObtainRetriesUntilFree(t *testing.T) {
	l, mock := newRedisLocker(Options{WaitFor: time.Second, RetryInterval: 5 * time.Millisecond})
	mock.ExpectSetNX("checkout:lock:guard", "token-1", time.Second).SetVal(false)
	mock.ExpectSetNX("checkout:lock:guard", "token-1", time.Second).SetVal(true)

	_, err := l.Obtain(context.Background(), "guard", time.Second)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisObtainPropagatesErrors(t *testing.T) {
	l, mock := newRedisLocker(Options{})
	mock.ExpectSetNX("checkout:lock:guard", "token-1", time.Second).SetErr(errors.New("connection refused"))

	_, err := l.Obtain(context.Background(), "guard", time.Second)

	assert.EqualError(t, err, "connection refused")
}

func TestLocalLockerExclusive(t *testing.T) {
	l := NewLocalLocker(Options{})
	ctx := context.Background()

	first, err := l.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = l.Obtain(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, first.Release(ctx))
	_, err = l.Obtain(ctx, "k", time.Minute)
	assert.NoError(t, err)
}

func TestLocalLockerExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLocker(Options{})
	l.nowFn = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Obtain(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = l.Obtain(ctx, "k", time.Second)
	require.NoError(t, err)

	// Releasing the expired holder must not free the new one.
	require.NoError(t, stale.Release(ctx))
	_, err = l.Obtain(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrNotObtained)
}

func TestLocalLockerHonorsContext(t *testing.T) {
	l := NewLocalLocker(Options{WaitFor: time.Minute, RetryInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := l.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)

	cancel()
	_, err = l.Obtain(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
