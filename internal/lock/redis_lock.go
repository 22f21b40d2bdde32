package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrHeld = errors.New("lock is held by another owner")

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	client redis.UniversalClient
	script *redis.Script
	key    string
	token  string
}

func (l *Lease) Key() string {
	return l.key
}

// Release deletes the key only while it still carries this lease's token, so
// a lease that expired and was taken over is left alone.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.token == "" {
		return nil
	}
	if err := l.script.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	l.token = ""
	return nil
}

// RedisLocker hands out single-owner leases on artifact keys so two workers
// never write the same deterministic output at once.
type RedisLocker struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	release   *redis.Script
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, keyPrefix string) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}

	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "pixelbook:lock"
	}

	return &RedisLocker{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
		release: redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`),
	}, nil
}

// Acquire takes the lease for subject or fails with ErrHeld.
func (l *RedisLocker) Acquire(ctx context.Context, subject string) (*Lease, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("lock subject is required")
	}

	token := uuid.NewString()
	key := fmt.Sprintf("%s:%s", l.keyPrefix, subject)
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}

	return &Lease{
		client: l.client,
		script: l.release,
		key:    key,
		token:  token,
	}, nil
}
