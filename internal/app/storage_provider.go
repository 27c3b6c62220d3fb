package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/verdant-edge/internal/cachestore"
	"github.com/yungbote/verdant-edge/internal/config"
	"github.com/yungbote/verdant-edge/internal/kvstore"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

type StorageBootstrapErrorCode string

const (
	StorageBootstrapErrorInvalidDriver StorageBootstrapErrorCode = "invalid_driver"
	StorageBootstrapErrorMissingRedis  StorageBootstrapErrorCode = "missing_redis"
	StorageBootstrapErrorConnectFailed StorageBootstrapErrorCode = "connect_failed"
)

type StorageBootstrapError struct {
	Code   StorageBootstrapErrorCode
	Driver string
	Cause  error
}

func (e *StorageBootstrapError) Error() string {
	if e == nil {
		return "storage bootstrap failed"
	}
	return fmt.Sprintf("storage bootstrap failed (code=%s driver=%q): %v", e.Code, e.Driver, e.Cause)
}

func (e *StorageBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Storage is everything the edge persists: the key/value store behind the
// services and the cache partitions behind the offline cache worker.
type Storage struct {
	KV    kvstore.Store
	Cache cachestore.Storage
	Redis *goredis.Client

	closers []func() error
}

func (s *Storage) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var newRedisClient = func(cfg config.RedisConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func resolveStorage(ctx context.Context, log *logger.Logger, cfg *config.Config) (*Storage, error) {
	out := &Storage{}
	driver := strings.TrimSpace(cfg.Storage.Driver)

	needRedis := driver == "redis" || cfg.Cache.Backend == "redis" || strings.TrimSpace(cfg.Redis.Addr) != ""
	if needRedis {
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return nil, &StorageBootstrapError{
				Code:   StorageBootstrapErrorMissingRedis,
				Driver: driver,
				Cause:  errors.New("redis address not configured"),
			}
		}
		rdb := newRedisClient(cfg.Redis)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Driver: "redis", Cause: err}
		}
		out.Redis = rdb
		out.closers = append(out.closers, rdb.Close)
	}

	log.Info("Selecting storage", "driver", driver, "cache_backend", cfg.Cache.Backend)

	switch driver {
	case "", "memory":
		out.KV = kvstore.NewMemory()
	case "sqlite", "postgres":
		db, err := kvstore.OpenDB(driver, cfg.Storage.DSN)
		if err != nil {
			_ = out.Close()
			return nil, &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Driver: driver, Cause: err}
		}
		if sqlDB, err := db.DB(); err == nil {
			out.closers = append(out.closers, sqlDB.Close)
		}
		kv, err := kvstore.NewGorm(db, log)
		if err != nil {
			_ = out.Close()
			return nil, &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Driver: driver, Cause: err}
		}
		out.KV = kv
	case "redis":
		kv, err := kvstore.NewRedis(out.Redis, cfg.Redis.Prefix, log)
		if err != nil {
			_ = out.Close()
			return nil, &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Driver: driver, Cause: err}
		}
		out.KV = kv
	default:
		_ = out.Close()
		err := &StorageBootstrapError{
			Code:   StorageBootstrapErrorInvalidDriver,
			Driver: driver,
			Cause:  fmt.Errorf("unsupported storage driver %q", driver),
		}
		log.Error("Storage selection failed", "driver", driver, "error_code", err.Code, "error", err)
		return nil, err
	}

	if cfg.Cache.Backend == "redis" {
		cache, err := cachestore.NewRedis(out.Redis, cfg.Redis.Prefix, log)
		if err != nil {
			_ = out.Close()
			return nil, &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Driver: "redis", Cause: err}
		}
		out.Cache = cache
	} else {
		out.Cache = cachestore.NewMemory()
	}
	return out, nil
}

func storageBootstrapErrorCode(err error) StorageBootstrapErrorCode {
	var bootstrapErr *StorageBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	return StorageBootstrapErrorConnectFailed
}
