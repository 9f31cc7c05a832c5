package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/spacelock/membership-security-backend/interfaces"
)

// ReviewLocker serializes identity reviews per member. Acquire blocks
// for at most the locker's acquisition timeout and then fails with
// ErrReviewLocked instead of queueing behind a slow review.
type ReviewLocker interface {
	// Acquire takes the exclusive review lock for userID. On success it
	// returns a release function that must be called exactly once.
	Acquire(ctx context.Context, userID string) (release func(), err error)
}

// MemoryLocker is the single-process ReviewLocker. Sufficient only when
// exactly one instance serves reviews; multi-instance deployments need
// RedisLocker.
type MemoryLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker creates an in-process locker with the given
// acquisition timeout.
func NewMemoryLocker(timeout time.Duration) *MemoryLocker {
	return &MemoryLocker{
		timeout: timeout,
		slots:   make(map[string]chan struct{}),
	}
}

func (l *MemoryLocker) slot(userID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[userID]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[userID] = s
	}
	return s
}

// Acquire takes the per-user slot or fails with ErrReviewLocked once
// the acquisition timeout elapses.
func (l *MemoryLocker) Acquire(ctx context.Context, userID string) (func(), error) {
	s := l.slot(userID)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: review of user %s already in progress", interfaces.ErrReviewLocked, userID)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", interfaces.ErrReviewLocked, ctx.Err())
	}
}

const redisLockPrefix = "review-lock:"

// redisReleaseScript deletes the lock only if it still holds our token,
// so an expired lock re-acquired by another instance is never released
// by the original holder.
var redisReleaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is the cross-process ReviewLocker, backed by SET NX PX.
// The lock carries a TTL so a crashed reviewer cannot strand a member's
// archive in a locked state forever.
type RedisLocker struct {
	client  *redis.Client
	timeout time.Duration
	ttl     time.Duration
	poll    time.Duration
}

// NewRedisLocker creates a distributed locker. timeout bounds
// acquisition, ttl bounds how long a crashed holder can keep the lock.
func NewRedisLocker(client *redis.Client, timeout, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:  client,
		timeout: timeout,
		ttl:     ttl,
		poll:    50 * time.Millisecond,
	}
}

// Acquire takes the distributed lock for userID or fails with
// ErrReviewLocked. Redis being unreachable also maps to
// ErrReviewLocked: without the lock no review may proceed.
func (l *RedisLocker) Acquire(ctx context.Context, userID string) (func(), error) {
	key := redisLockPrefix + userID
	token := uuid.New().String()
	deadline := time.Now().Add(l.timeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: lock backend unreachable: %v", interfaces.ErrReviewLocked, err)
		}
		if ok {
			release := func() {
				// Release must succeed even when the review's request
				// context is already gone.
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				redisReleaseScript.Run(releaseCtx, l.client, []string{key}, token)
			}
			return release, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: review of user %s already in progress", interfaces.ErrReviewLocked, userID)
		}

		select {
		case <-time.After(l.poll):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", interfaces.ErrReviewLocked, ctx.Err())
		}
	}
}
