package cachex

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"clever-events/shared/config"
)

const seenPrefix = "clever-events:seen:"

var ErrNotConfigured = errors.New("cachex: redis not configured")

// Store is the Redis connection shared by the redis queue backend and
// message de-duplication.
type Store struct {
	rdb *redis.Client
}

func New(cfg config.Config) (*Store, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	return Wrap(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})), nil
}

// Wrap adopts an existing connection.
func Wrap(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) conn() (*redis.Client, error) {
	if s == nil || s.rdb == nil {
		return nil, ErrNotConfigured
	}
	return s.rdb, nil
}

func (s *Store) Ping(ctx context.Context) error {
	rdb, err := s.conn()
	if err != nil {
		return err
	}
	return rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	rdb, err := s.conn()
	if err != nil {
		return nil
	}
	return rdb.Close()
}

// MarkOnce records key for ttl and reports whether this call was the first
// to do so. Handlers use it to skip redelivered messages.
func (s *Store) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	rdb, err := s.conn()
	if err != nil {
		return false, err
	}
	return rdb.SetNX(ctx, seenPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Forget removes a MarkOnce record so a later delivery is handled again.
func (s *Store) Forget(ctx context.Context, key string) error {
	rdb, err := s.conn()
	if err != nil {
		return err
	}
	return rdb.Del(ctx, seenPrefix+key).Err()
}

func (s *Store) Client() *redis.Client {
	rdb, _ := s.conn()
	return rdb
}
