package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

// Redis stores each partition as a hash (field = URL) and tracks partition
// names in a sorted set scored by creation time.
type Redis struct {
	log    *logger.Logger
	rdb    goredis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedis(rdb goredis.UniversalClient, prefix string, baseLog *logger.Logger) (*Redis, error) {
	if rdb == nil {
		return nil, errors.New("cachestore: redis client required")
	}
	return &Redis{
		log:    baseLog.With("store", "RedisCacheStore"),
		rdb:    rdb,
		prefix: prefix + "cache:",
		now:    time.Now,
	}, nil
}

func (r *Redis) namesKey() string                { return r.prefix + "names" }
func (r *Redis) partitionKey(name string) string { return r.prefix + "p:" + name }

func (r *Redis) Open(ctx context.Context, name string) (Cache, error) {
	if name == "" {
		return nil, errors.New("cachestore: partition name required")
	}
	err := r.rdb.ZAddNX(ctx, r.namesKey(), goredis.Z{
		Score:  float64(r.now().UnixNano()),
		Member: name,
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("cachestore: register partition: %w", err)
	}
	return &redisCache{r: r, name: name}, nil
}

func (r *Redis) Names(ctx context.Context) ([]string, error) {
	names, err := r.rdb.ZRange(ctx, r.namesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cachestore: list partitions: %w", err)
	}
	return names, nil
}

func (r *Redis) Delete(ctx context.Context, name string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, r.partitionKey(name))
		p.ZRem(ctx, r.namesKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cachestore: delete partition %s: %w", name, err)
	}
	r.log.Debug("Deleted cache partition", "name", name)
	return nil
}

func (r *Redis) Match(ctx context.Context, url string) (*Entry, error) {
	names, err := r.Names(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		e, err := (&redisCache{r: r, name: n}).Get(ctx, url)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

type redisCache struct {
	r    *Redis
	name string
}

func (c *redisCache) Name() string { return c.name }

func (c *redisCache) Get(ctx context.Context, url string) (*Entry, error) {
	raw, err := c.r.rdb.HGet(ctx, c.r.partitionKey(c.name), url).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cachestore: hget: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("cachestore: decode entry: %w", err)
	}
	return &e, nil
}

func (c *redisCache) Put(ctx context.Context, e *Entry) error {
	if e == nil || e.URL == "" {
		return errors.New("cachestore: entry url required")
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := c.r.rdb.HSet(ctx, c.r.partitionKey(c.name), e.URL, raw).Err(); err != nil {
		return fmt.Errorf("cachestore: hset: %w", err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, url string) error {
	if err := c.r.rdb.HDel(ctx, c.r.partitionKey(c.name), url).Err(); err != nil {
		return fmt.Errorf("cachestore: hdel: %w", err)
	}
	return nil
}

func (c *redisCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.r.rdb.HKeys(ctx, c.r.partitionKey(c.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("cachestore: hkeys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
