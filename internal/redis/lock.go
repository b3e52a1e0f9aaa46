package redis

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ridebook/internal/lock"
)

const lockKeyPrefix = "lock:"

// DefaultLockRetry is how long Lock waits between SETNX attempts.
const DefaultLockRetry = 25 * time.Millisecond

// releaseScript deletes the key only when it still carries our token, so an
// expired lock that someone else now holds is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward only while the key carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ErrLockNotHeld is returned by Release when the token no longer owns the key.
var ErrLockNotHeld = errors.New("lock not held")

// LockStore handles distributed locking in Redis. It lets several engine
// instances share reservation and driver locks.
type LockStore struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

var _ lock.Locker = (*LockStore)(nil)

// NewLockStore creates a new LockStore. ttl bounds how long a crashed holder can
// block others.
func NewLockStore(client *redis.Client, ttl time.Duration) *LockStore {
	return &LockStore{client: client, ttl: ttl, retry: DefaultLockRetry}
}

// TryAcquire attempts to acquire key once.
// Returns the owner token and true if the lock was acquired.
func (s *LockStore) TryAcquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.New().String()

	ok, err := s.client.SetNX(ctx, lockKeyPrefix+key, token, s.ttl).Result()
	if err != nil {
		return "", false, err
	}

	return token, ok, nil
}

// Release releases key if token still owns it.
func (s *LockStore) Release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{lockKeyPrefix + key}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the expiry of key to the store's ttl if token still owns it.
func (s *LockStore) Extend(ctx context.Context, key, token string) error {
	n, err := extendScript.Run(ctx, s.client, []string{lockKeyPrefix + key}, token, s.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// keepAlive extends the lease every third of the ttl until stop is closed.
func (s *LockStore) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := s.ttl / 3
	if interval <= 0 {
		interval = s.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := s.Extend(ctx, key, token)
			cancel()
			if errors.Is(err, ErrLockNotHeld) {
				log.Printf("[LOCK] lease on %s lost before unlock", key)
				return
			}
			if err != nil {
				log.Printf("[LOCK] failed to extend %s: %v", key, err)
			}
		}
	}
}

// Lock polls until key is acquired or ctx is done. The lease is renewed while
// the lock is held, so ttl only bounds how long a crashed holder blocks others.
func (s *LockStore) Lock(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(s.retry)
	defer ticker.Stop()

	for {
		token, ok, err := s.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go s.keepAlive(key, token, stop, done)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done

					// The caller's ctx may already be cancelled by the time it unlocks.
					releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = s.Release(releaseCtx, key, token)
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
