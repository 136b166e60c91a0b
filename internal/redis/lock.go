package redisclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Locker serialises critical sections per key (one slot, one patient).
// fn runs with a context bounded by the lock TTL so it cannot outlive the lock.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// WaitObserver is told how long each acquisition attempt waited.
type WaitObserver func(key string, acquired bool, waited time.Duration)

type LockOptions struct {
	TTL          time.Duration // lock lifetime; also bounds fn
	Wait         time.Duration // how long to keep trying before ErrLockNotAcquired
	PollInterval time.Duration // base delay between attempts (jittered)
	Observe      WaitObserver
}

func (o LockOptions) withDefaults() LockOptions {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Second
	}
	if o.Wait < 0 {
		o.Wait = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Millisecond
	}
	return o
}

func SlotLockKey(slotID uuid.UUID) string {
	return "lock:slot:" + slotID.String()
}

func PatientLockKey(patientID uuid.UUID) string {
	return "lock:patient:" + patientID.String()
}

// KeyScope returns "slot" or "patient" for keys built above, "other" otherwise.
func KeyScope(key string) string {
	switch {
	case strings.HasPrefix(key, "lock:slot:"):
		return "slot"
	case strings.HasPrefix(key, "lock:patient:"):
		return "patient"
	default:
		return "other"
	}
}

type redisLocker struct {
	client *redis.Client
	opts   LockOptions
}

// NewRedisLocker creates a locker that uses one Redis key per lock.
func NewRedisLocker(client *redis.Client, opts LockOptions) Locker {
	return &redisLocker{
		client: client,
		opts:   opts.withDefaults(),
	}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	start := time.Now()
	err := l.acquire(ctx, key, token)
	l.observe(key, err == nil, time.Since(start))
	if err != nil {
		return err
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.opts.TTL)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.opts.Wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		timer := time.NewTimer(jitter(l.opts.PollInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

func (l *redisLocker) observe(key string, acquired bool, waited time.Duration) {
	if l.opts.Observe != nil {
		l.opts.Observe(key, acquired, waited)
	}
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
