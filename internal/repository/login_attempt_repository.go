package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const loginFailuresKeyPrefix = "login_failures:"

// LoginAttemptRepository counts consecutive failed logins per account.
type LoginAttemptRepository interface {
	Failures(ctx context.Context, account string) (int64, error)
	RecordFailure(ctx context.Context, account string) (int64, error)
	Reset(ctx context.Context, account string) error
}

type loginAttemptRepository struct {
	client redis.Cmdable
	window time.Duration
}

// NewLoginAttemptRepository returns a Redis-backed counter whose entries
// expire window after the latest failure.
func NewLoginAttemptRepository(client redis.Cmdable, window time.Duration) LoginAttemptRepository {
	return &loginAttemptRepository{client: client, window: window}
}

func loginFailuresKey(account string) string {
	return loginFailuresKeyPrefix + account
}

func (r *loginAttemptRepository) Failures(ctx context.Context, account string) (int64, error) {
	n, err := r.client.Get(ctx, loginFailuresKey(account)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *loginAttemptRepository) RecordFailure(ctx context.Context, account string) (int64, error) {
	key := loginFailuresKey(account)
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, r.window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *loginAttemptRepository) Reset(ctx context.Context, account string) error {
	return r.client.Del(ctx, loginFailuresKey(account)).Err()
}
