package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
)

const (
	defaultLockPrefix   = "lmssync:lock:"
	defaultLockTTL      = 10 * time.Minute
	defaultPollInterval = 50 * time.Millisecond
)

// releaseScript deletes the key only while it still holds the caller's token,
// so a holder whose lock expired cannot release someone else's
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisEntityLocker implements EntityLocker on Redis. It is suitable for
// deployments where several instances sync the same entities.
type RedisEntityLocker struct {
	client       redis.UniversalClient
	keyPrefix    string
	ttl          time.Duration
	maxWait      time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

// RedisLockerOption configures a RedisEntityLocker
type RedisLockerOption func(*RedisEntityLocker)

// WithLockTTL sets the expiry protecting against crashed holders
func WithLockTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisEntityLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockMaxWait bounds how long Lock polls before ErrLockTimeout
func WithLockMaxWait(wait time.Duration) RedisLockerOption {
	return func(l *RedisEntityLocker) {
		l.maxWait = wait
	}
}

// WithPollInterval sets the delay between acquisition attempts
func WithPollInterval(d time.Duration) RedisLockerOption {
	return func(l *RedisEntityLocker) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithKeyPrefix namespaces lock keys
func WithKeyPrefix(prefix string) RedisLockerOption {
	return func(l *RedisEntityLocker) {
		if prefix != "" {
			l.keyPrefix = prefix
		}
	}
}

// WithLockerLogger sets the logger used for release failures
func WithLockerLogger(logger *zap.Logger) RedisLockerOption {
	return func(l *RedisEntityLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewRedisEntityLocker creates a locker with an existing Redis client
func NewRedisEntityLocker(client redis.UniversalClient, opts ...RedisLockerOption) *RedisEntityLocker {
	l := &RedisEntityLocker{
		client:       client,
		keyPrefix:    defaultLockPrefix,
		ttl:          defaultLockTTL,
		pollInterval: defaultPollInterval,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Lock polls SET NX PX until the key is acquired, ctx is done or maxWait elapses
func (l *RedisEntityLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.keyPrefix + key
	token := uuid.NewString()

	waitCtx, cancel := withMaxWait(ctx, l.maxWait)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, redisKey, token, l.ttl).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		select {
		case <-waitCtx.Done():
			return nil, waitError(ctx, key)
		case <-ticker.C:
		}
	}
}

func (l *RedisEntityLocker) releaser(redisKey, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// the caller's ctx may already be cancelled when the work finishes
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("Failed to release entity lock",
				zap.String("key", redisKey),
				zap.Error(err),
			)
		}
	}
}

// Close closes the Redis client
func (l *RedisEntityLocker) Close() error {
	return l.client.Close()
}

// Ensure RedisEntityLocker implements EntityLocker
var _ lms.EntityLocker = (*RedisEntityLocker)(nil)
