package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/config"
)

// LockerFactory creates entity lockers based on configuration
type LockerFactory struct {
	syncConfig            config.SyncConfig
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// LockerFactoryOption is a functional option for configuring the factory
type LockerFactoryOption func(*LockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory locker
// when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewLockerFactory creates a new factory
func NewLockerFactory(syncCfg config.SyncConfig, redisCfg config.RedisConfig, opts ...LockerFactoryOption) *LockerFactory {
	f := &LockerFactory{
		syncConfig:            syncCfg,
		redisConfig:           redisCfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateInMemoryLocker creates a process-local locker.
// WARNING: it does not serialize work across instances.
func (f *LockerFactory) CreateInMemoryLocker() *InMemoryEntityLocker {
	return NewInMemoryEntityLocker(f.syncConfig.LockWait)
}

// CreateRedisLocker connects to Redis and creates a distributed locker
func (f *LockerFactory) CreateRedisLocker(ctx context.Context) (*RedisEntityLocker, error) {
	client, err := NewRedisClient(ctx, f.redisConfig.Addr(), f.redisConfig.Password, f.redisConfig.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis entity locker: %w", err)
	}
	return NewRedisEntityLocker(client,
		WithLockTTL(f.syncConfig.LockTTL),
		WithLockMaxWait(f.syncConfig.LockWait),
		WithLockerLogger(f.logger),
	), nil
}

// CreateLocker returns the locker selected by sync.lock_backend along with a
// close function. A redis backend that cannot be reached falls back to the
// in-memory locker when fallback is allowed.
func (f *LockerFactory) CreateLocker(ctx context.Context) (lms.EntityLocker, func() error, error) {
	noop := func() error { return nil }

	if f.syncConfig.LockBackend != "redis" {
		f.logger.Info("Using in-memory entity locker")
		return f.CreateInMemoryLocker(), noop, nil
	}

	locker, err := f.CreateRedisLocker(ctx)
	if err == nil {
		f.logger.Info("Using Redis entity locker", zap.String("addr", f.redisConfig.Addr()))
		return locker, locker.Close, nil
	}

	if !f.allowInMemoryFallback {
		return nil, nil, fmt.Errorf("redis required for entity locking but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory entity locker. "+
		"Concurrent instances may sync the same entity twice.",
		zap.Error(err),
	)
	return f.CreateInMemoryLocker(), noop, nil
}
