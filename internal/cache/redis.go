package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-analytics/internal/config"
	"github.com/stemsi/exstem-analytics/internal/model"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker is a Locker shared by every process using the same Redis.
type RedisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	lease := newLease(key, ttl, time.Now())
	ok, err := l.rdb.SetNX(ctx, config.CacheKey.CommentaryLockKey(key), lease.Token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return lease, true, nil
}

func (l *RedisLocker) Extend(ctx context.Context, lease *Lease, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.rdb,
		[]string{config.CacheKey.CommentaryLockKey(lease.Key)},
		lease.Token, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	lease.TTL = ttl
	return nil
}

func (l *RedisLocker) Release(ctx context.Context, lease *Lease) error {
	err := releaseScript.Run(ctx, l.rdb,
		[]string{config.CacheKey.CommentaryLockKey(lease.Key)},
		lease.Token,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// RedisCommentaryStore keeps commentary as JSON strings with a TTL.
type RedisCommentaryStore struct {
	rdb *redis.Client
}

// NewRedisCommentaryStore creates a RedisCommentaryStore.
func NewRedisCommentaryStore(rdb *redis.Client) *RedisCommentaryStore {
	return &RedisCommentaryStore{rdb: rdb}
}

func (s *RedisCommentaryStore) Get(ctx context.Context, key string) (*model.CommentaryEntry, bool, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.CommentaryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get commentary: %w", err)
	}

	var e model.CommentaryEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode commentary: %w", err)
	}
	return &e, true, nil
}

func (s *RedisCommentaryStore) Set(ctx context.Context, entry model.CommentaryEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, config.CacheKey.CommentaryKey(entry.Key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("set commentary: %w", err)
	}
	return nil
}
