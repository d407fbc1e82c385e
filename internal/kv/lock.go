package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// Lock is a best-effort distributed mutex on a single Redis key. The holder
// writes a random token so a slow replica cannot release a lock it no longer
// owns. TTL bounds how long a crashed holder can block the others.
type Lock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewLock creates a lock on the given key.
func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// TryAcquire attempts to take the lock. Returns false without error when
// another holder has it.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	token := ulid.Make().String()

	status, err := l.client.SetArgs(ctx, l.key, token, redis.SetArgs{Mode: "NX", TTL: l.ttl}).Result()
	if err != nil {
		// NX miss surfaces as redis.Nil: the key exists, someone else holds it.
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if status != "OK" {
		return false, nil
	}

	l.token = token
	return true, nil
}

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release drops the lock if this instance still holds it.
func (l *Lock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}
