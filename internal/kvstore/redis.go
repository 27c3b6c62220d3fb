package kvstore

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

type redisStore struct {
	log    *logger.Logger
	rdb    goredis.UniversalClient
	prefix string
}

func NewRedis(rdb goredis.UniversalClient, prefix string, baseLog *logger.Logger) (Store, error) {
	if rdb == nil {
		return nil, errors.New("kvstore: redis client required")
	}
	return &redisStore{
		log:    baseLog.With("store", "RedisKVStore"),
		rdb:    rdb,
		prefix: prefix + "kv:",
	}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: redis get: %w", err)
	}
	return v, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("kvstore: redis set: %w", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("kvstore: redis del: %w", err)
	}
	return nil
}
