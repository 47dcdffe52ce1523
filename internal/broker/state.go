package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Get reads a JSON value into v. Returns false with no error if the key does
// not exist.
func (b *Broker) Get(ctx context.Context, key string, v any) (bool, error) {
	data, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Set writes a JSON value with a TTL. A zero TTL means no expiry.
func (b *Broker) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := b.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (b *Broker) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

// AppendBounded pushes a JSON entry onto the head of a list, trims the list
// to max entries (newest first), and refreshes the TTL. The three operations
// run in one pipeline.
func (b *Broker) AppendBounded(ctx context.Context, key string, entry any, max int64, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, max-1)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	return nil
}

// ListLen returns the length of a list key.
func (b *Broker) ListLen(ctx context.Context, key string) (int64, error) {
	return b.client.LLen(ctx, key).Result()
}

// ListRange returns raw list entries, newest first.
func (b *Broker) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return b.client.LRange(ctx, key, start, stop).Result()
}

// SetIfAbsent atomically sets a key only if it does not exist. Returns true
// if the key was claimed. Used for dedup sentinels and single-writer locks.
func (b *Broker) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseIfValue deletes a key only while it still holds the given token.
// The lock TTL bounds staleness, so a read-check-delete is sufficient: the
// only writer that can change the value is a later holder, whose token will
// not match.
func (b *Broker) ReleaseIfValue(ctx context.Context, key, token string) error {
	current, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if current != token {
		return nil
	}
	return b.client.Del(ctx, key).Err()
}
