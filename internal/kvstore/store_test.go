package kvstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: err=%v", err)
	}
	if err := s.Set(ctx, "bookmarks_u1", []byte(`[{"id":"a"}]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "bookmarks_u1", []byte(`[{"id":"b"}]`)); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	var out []map[string]string
	found, err := GetJSON(ctx, s, "bookmarks_u1", &out)
	if err != nil || !found {
		t.Fatalf("GetJSON: found=%v err=%v", found, err)
	}
	if len(out) != 1 || out[0]["id"] != "b" {
		t.Fatalf("unexpected value: %+v", out)
	}
	if err := s.Delete(ctx, "bookmarks_u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "bookmarks_u1"); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
	found, err = GetJSON(ctx, s, "bookmarks_u1", &out)
	if err != nil || found {
		t.Fatalf("after delete: found=%v err=%v", found, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	v := []byte(`"a"`)
	_ = m.Set(ctx, "k", v)
	v[1] = 'z'
	got, _ := m.Get(ctx, "k")
	if string(got) != `"a"` {
		t.Fatalf("stored value aliased caller buffer: %s", got)
	}
}

func TestGormStoreSQLite(t *testing.T) {
	db, err := OpenDB("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	s, err := NewGorm(db, logger.Nop())
	if err != nil {
		t.Fatalf("NewGorm: %v", err)
	}
	exerciseStore(t, s)
}

func TestGormStorePostgres(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run postgres kvstore tests")
	}
	db, err := OpenDB("postgres", dsn)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	s, err := NewGorm(db, logger.Nop())
	if err != nil {
		t.Fatalf("NewGorm: %v", err)
	}
	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis kvstore tests")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})
	t.Cleanup(func() { _ = rdb.Close() })
	s, err := NewRedis(rdb, "verdant-test:", logger.Nop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	exerciseStore(t, s)
}
