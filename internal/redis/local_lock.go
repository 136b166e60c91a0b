package redisclient

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// localLocker is the in-process Locker used when no Redis is configured
// (single replica deployments, tests). Keys are reference counted so the
// map does not grow with every slot ever booked.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
	opts  LockOptions
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker(opts LockOptions) Locker {
	return &localLocker{
		locks: make(map[string]*keyLock),
		opts:  opts.withDefaults(),
	}
}

func (l *localLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	kl := l.ref(key)
	defer l.unref(key)

	start := time.Now()
	err := l.acquire(ctx, kl)
	if l.opts.Observe != nil {
		l.opts.Observe(key, err == nil, time.Since(start))
	}
	if err != nil {
		return err
	}
	defer func() { <-kl.ch }()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.opts.TTL)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *localLocker) acquire(ctx context.Context, kl *keyLock) error {
	select {
	case kl.ch <- struct{}{}:
		return nil
	default:
	}

	if l.opts.Wait <= 0 {
		return ErrLockNotAcquired
	}

	timer := time.NewTimer(l.opts.Wait)
	defer timer.Stop()

	select {
	case kl.ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockNotAcquired
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
	}
}

func (l *localLocker) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *localLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl := l.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
