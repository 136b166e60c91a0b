package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions describes the connection used for booking locks. Lock
// commands are tiny, so timeouts stay well below the lock wait.
type ClientOptions struct {
	Addr     string
	Username string
	Password string
	// LockWait bounds how long a single command may block; zero keeps the
	// go-redis defaults.
	LockWait time.Duration
}

func NewRedisClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	ioTimeout := 2 * time.Second
	if opts.LockWait > 0 && opts.LockWait < ioTimeout {
		ioTimeout = opts.LockWait
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Username:        opts.Username,
		Password:        opts.Password,
		ReadTimeout:     ioTimeout,
		WriteTimeout:    ioTimeout,
		DialTimeout:     3 * time.Second,
		PoolSize:        20,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
		// SETNX retries are driven by the locker itself
		MaxRetries: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	return rdb, nil
}
