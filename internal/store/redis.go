package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// mergeRetries bounds MergeList attempts under concurrent writers.
const mergeRetries = 5

// RedisStore provides the key-value primitives shared by the feed, cache,
// presence and history components. Every method is a single round trip or a
// single pipeline, except MergeList, which is an optimistic transaction on one
// key. None of them are transactional across keys.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	client.AddHook(latencyHook{})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, unavailable(err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying client for components that need raw access
// (rate limiting).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return unavailable(s.client.Ping(ctx).Err())
}

// SetWithTTL writes value under key, replacing any previous value and TTL.
func (s *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return unavailable(s.client.Set(ctx, key, value, ttl).Err())
}

// Get returns the value under key. found is false if the key does not exist
// or has expired.
func (s *RedisStore) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	value, err = s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}
	return value, true, nil
}

// Delete removes keys. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return unavailable(s.client.Del(ctx, keys...).Err())
}

// GetMany returns the values under keys in order. Absent or expired keys
// yield a nil entry.
func (s *RedisStore) GetMany(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	values := make([][]byte, len(raw))
	for i, v := range raw {
		if str, ok := v.(string); ok {
			values[i] = []byte(str)
		}
	}
	return values, nil
}

// SetAdd adds member to the set at key and, if ttl > 0, refreshes the key TTL.
func (s *RedisStore) SetAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, member)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return unavailable(err)
}

// SetMembers returns the members of the set at key, sorted.
func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	sort.Strings(members)
	return members, nil
}

// SetRemove removes members from the set at key.
func (s *RedisStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return unavailable(s.client.SRem(ctx, key, args...).Err())
}

// PushTrim prepends value to the list at key and truncates the list to its
// first limit entries.
func (s *RedisStore) PushTrim(ctx context.Context, key string, value []byte, limit int) error {
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, int64(limit)-1)
	_, err := pipe.Exec(ctx)
	return unavailable(err)
}

// MergeList rewrites the list at key with merge(current), keeping the first
// limit values (the first value becomes the head). The rewrite commits only
// if nobody else wrote the list while merge ran; otherwise merge runs again
// against the new contents.
func (s *RedisStore) MergeList(ctx context.Context, key string, merge func(current []string) [][]byte, limit int) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		values := merge(current)
		if len(values) > limit {
			values = values[:limit]
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(values) > 0 {
				args := make([]interface{}, len(values))
				for i, v := range values {
					args[i] = v
				}
				pipe.RPush(ctx, key, args...)
			}
			return nil
		})
		return err
	}

	for i := 0; i < mergeRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return unavailable(err)
		}
	}
	return unavailable(fmt.Errorf("merge %s: %w", key, redis.TxFailedErr))
}

// Range returns up to limit entries from the head of the list at key.
func (s *RedisStore) Range(ctx context.Context, key string, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	values, err := s.client.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return values, nil
}

// SortedInsertPrune adds member with score to the sorted set at key, removes
// members scored strictly below minScore and, if ttl > 0, refreshes the key TTL.
func (s *RedisStore) SortedInsertPrune(ctx context.Context, key string, score float64, member string, minScore float64, ttl time.Duration) error {
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  score,
		Member: member,
	})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatFloat(minScore, 'f', -1, 64))
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return unavailable(err)
}

// SortedRange returns every member of the sorted set at key in ascending
// score order.
func (s *RedisStore) SortedRange(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return members, nil
}

// Publish sends message on channel. Delivery is best effort.
func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	return unavailable(s.client.Publish(ctx, channel, message).Err())
}

// Subscribe listens on channel until ctx is done. It returns once the server
// has confirmed the subscription. The returned channel is closed when the
// subscription ends.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, unavailable(err)
	}
	out := make(chan string, 16)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
					// Reader is behind; a nudge is already pending
				}
			}
		}
	}()

	return out, nil
}

// unavailable wraps non-nil client errors in ErrUnavailable.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
