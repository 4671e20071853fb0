package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrReferenceBusy is returned by callers that treat a held lock as a
// retryable delivery failure rather than waiting for it.
var ErrReferenceBusy = errors.New("another delivery for this reference is in flight")

// Locker serializes reconciliation per gateway reference. Notifications for
// distinct references process concurrently; two deliveries of the same
// reference take turns, so the decision table always sees the state the
// previous delivery left behind.
type Locker struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{Client: client, TTL: 30 * time.Second}
}

// Lock takes the per-reference lock. The owner token distinguishes competing
// deliveries so only the holder can release.
func (l *Locker) Lock(ctx context.Context, reference, owner string) (bool, error) {
	key := "ref_lock:" + reference
	return l.Client.SetNX(ctx, key, owner, l.TTL).Result()
}

// Unlock releases the lock when still held by owner. A lock that expired or
// changed hands is left alone.
func (l *Locker) Unlock(ctx context.Context, reference, owner string) error {
	key := "ref_lock:" + reference
	val, err := l.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == owner {
		_, err = l.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
