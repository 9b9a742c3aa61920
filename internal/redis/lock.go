package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("therapist lock not acquired")
)

// acquireRetryInterval is how often a waiting caller polls a held lock.
const acquireRetryInterval = 20 * time.Millisecond

// Locker serialises overlap checks and writes on one therapist's calendar.
// Slot creation, booking and rescheduling all compare against the same
// appointment set, so the lock is per therapist rather than per slot.
type Locker interface {
	WithTherapistLock(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context) error) error
}

// acquire calls try until it succeeds, wait elapses or ctx ends. A zero
// wait makes exactly one attempt.
func acquire(ctx context.Context, wait time.Duration, try func(ctx context.Context) (bool, error)) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(acquireRetryInterval):
		}
	}
}

type redisTherapistLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisTherapistLocker returns a Locker backed by one Redis key per
// therapist. The key expires after ttl; callers queue for up to wait.
func NewRedisTherapistLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisTherapistLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

// lockKey holds the random token of the current owner.
func lockKey(therapistID uuid.UUID) string {
	return "lock:therapist:" + therapistID.String()
}

func (l *redisTherapistLocker) WithTherapistLock(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(therapistID)
	token := uuid.NewString()

	err := acquire(ctx, l.wait, func(ctx context.Context) (bool, error) {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("acquire therapist lock: %w", err)
		}
		return ok, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	held, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(held)
}

// unlockScript deletes the key only while it still carries our token, so an
// expired lock taken over by someone else survives.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *redisTherapistLocker) release(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release therapist lock: %w", err)
	}
	return nil
}

// LocalLocker is the single-process Locker used with the in-memory store.
type LocalLocker struct {
	wait time.Duration

	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{wait: wait, held: make(map[uuid.UUID]struct{})}
}

func (l *LocalLocker) WithTherapistLock(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context) error) error {
	err := acquire(ctx, l.wait, func(context.Context) (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, busy := l.held[therapistID]; busy {
			return false, nil
		}
		l.held[therapistID] = struct{}{}
		return true, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		l.mu.Lock()
		delete(l.held, therapistID)
		l.mu.Unlock()
	}()

	return fn(ctx)
}
