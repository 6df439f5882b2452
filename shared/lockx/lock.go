package lockx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "clever-events:lock:"

var (
	ErrNotConfigured = errors.New("lockx: redis not configured")
	ErrInvalidTTL    = errors.New("lockx: ttl must be > 0")
	ErrNilLock       = errors.New("lockx: lock is nil")
)

// compare-and-delete so a holder whose ttl lapsed cannot free a newer lock.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

type Lock struct {
	Key   string
	Token string
	TTL   time.Duration
}

// Locker hands out short-lived exclusive locks keyed by name.
type Locker struct {
	client redis.UniversalClient
}

func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// Acquire returns ok=false without error when another holder owns name.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error) {
	switch {
	case l == nil || l.client == nil:
		return nil, false, ErrNotConfigured
	case ttl <= 0:
		return nil, false, ErrInvalidTTL
	}
	lock := &Lock{Key: keyPrefix + name, Token: uuid.NewString(), TTL: ttl}
	acquired, err := l.client.SetNX(ctx, lock.Key, lock.Token, ttl).Result()
	if err != nil || !acquired {
		return nil, false, err
	}
	return lock, true, nil
}

func (l *Locker) Release(ctx context.Context, lock *Lock) error {
	switch {
	case l == nil || l.client == nil:
		return ErrNotConfigured
	case lock == nil:
		return ErrNilLock
	}
	return l.client.Eval(ctx, releaseScript, []string{lock.Key}, lock.Token).Err()
}
