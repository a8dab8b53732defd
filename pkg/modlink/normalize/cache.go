package normalize

import (
	"context"
	"path/filepath"
	"sync"
)

// Cache memoizes one Func per directory. Deployments use a fresh Cache per
// operation; the orchestrator keeps a long-lived one for directory keys.
type Cache struct {
	opts Options
	mu   sync.Mutex
	fns  map[string]Func
}

// NewCache returns an empty cache.
func NewCache(opts Options) *Cache {
	return &Cache{opts: opts, fns: make(map[string]Func)}
}

// Get returns the Func for dir, probing on first use.
func (c *Cache) Get(ctx context.Context, dir string) (Func, error) {
	key := filepath.Clean(dir)

	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.fns[key]; ok {
		return f, nil
	}
	f, err := New(ctx, key, c.opts)
	if err != nil {
		return nil, err
	}
	c.fns[key] = f
	return f, nil
}

// Put records f as the Func for dir without probing.
func (c *Cache) Put(dir string, f Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns[filepath.Clean(dir)] = f
}

// Len returns the number of probed directories.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fns)
}
