package cachestore

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Memory keeps partitions in process memory.
type Memory struct {
	mu     sync.RWMutex
	order  []string
	caches map[string]*memoryCache
}

func NewMemory() *Memory {
	return &Memory{caches: map[string]*memoryCache{}}
}

func (m *Memory) Open(_ context.Context, name string) (Cache, error) {
	if name == "" {
		return nil, errors.New("cachestore: partition name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.caches[name]; ok {
		return c, nil
	}
	c := &memoryCache{name: name, entries: map[string]*Entry{}}
	m.caches[name] = c
	m.order = append(m.order, name)
	return c, nil
}

func (m *Memory) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.caches[name]; !ok {
		return nil
	}
	delete(m.caches, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Match(ctx context.Context, url string) (*Entry, error) {
	m.mu.RLock()
	caches := make([]*memoryCache, 0, len(m.order))
	for _, n := range m.order {
		caches = append(caches, m.caches[n])
	}
	m.mu.RUnlock()
	for _, c := range caches {
		e, err := c.Get(ctx, url)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

type memoryCache struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*Entry
}

func (c *memoryCache) Name() string { return c.name }

func (c *memoryCache) Get(_ context.Context, url string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[url]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e), nil
}

func (c *memoryCache) Put(_ context.Context, e *Entry) error {
	if e == nil || e.URL == "" {
		return errors.New("cachestore: entry url required")
	}
	c.mu.Lock()
	c.entries[e.URL] = clone(e)
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Delete(_ context.Context, url string) error {
	c.mu.Lock()
	delete(c.entries, url)
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}
