// internal/lock/lock.go
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotObtained = errors.New("lock not obtained")

// Locker hands out short-lived exclusive locks keyed by string.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}

// Options controls how long Obtain keeps retrying a held key.
type Options struct {
	WaitFor       time.Duration
	RetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryInterval <= 0 {
		o.RetryInterval = 50 * time.Millisecond
	}
	return o
}

// retry calls try until it succeeds, fails hard, or WaitFor has elapsed.
func retry(ctx context.Context, opts Options, try func() (bool, error)) error {
	deadline := time.Now().Add(opts.WaitFor)
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Add(opts.RetryInterval).Before(deadline) {
			return ErrNotObtained
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.RetryInterval):
		}
	}
}

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker uses SET NX with a random token; release only deletes the key
// while it still holds that token.
type RedisLocker struct {
	client  redis.Cmdable
	prefix  string
	opts    Options
	tokenFn func() string
}

func NewRedisLocker(client redis.Cmdable, prefix string, opts Options) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, opts: opts.withDefaults(), tokenFn: uuid.NewString}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	fullKey := l.prefix + key
	token := l.tokenFn()
	err := retry(ctx, l.opts, func() (bool, error) {
		return l.client.SetNX(ctx, fullKey, token, ttl).Result()
	})
	if err != nil {
		return nil, err
	}
	return &redisLock{client: l.client, key: fullKey, token: token}, nil
}

type redisLock struct {
	client redis.Cmdable
	key    string
	token  string
}

func (r *redisLock) Release(ctx context.Context) error {
	return r.client.Eval(ctx, releaseScript, []string{r.key}, r.token).Err()
}

// LocalLocker is the single-process fallback when Redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localEntry
	opts  Options
	nowFn func() time.Time
}

type localEntry struct {
	token     string
	expiresAt time.Time
}

func NewLocalLocker(opts Options) *LocalLocker {
	return &LocalLocker{held: map[string]localEntry{}, opts: opts.withDefaults(), nowFn: time.Now}
}

func (l *LocalLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	token := uuid.NewString()
	err := retry(ctx, l.opts, func() (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		now := l.nowFn()
		if e, ok := l.held[key]; ok && now.Before(e.expiresAt) {
			return false, nil
		}
		l.held[key] = localEntry{token: token, expiresAt: now.Add(ttl)}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &localLock{owner: l, key: key, token: token}, nil
}

type localLock struct {
	owner *LocalLocker
	key   string
	token string
}

func (l *localLock) Release(ctx context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if e, ok := l.owner.held[l.key]; ok && e.token == l.token {
		delete(l.owner.held, l.key)
	}
	return nil
}
