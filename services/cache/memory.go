package cachesvc

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core"
)

type entry struct {
	data      []byte
	expiresAt time.Time // zero: never
}

// MemoryCache is a process-local core.Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

var _ core.Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]entry), now: time.Now}
}

// get must be called with the lock held.
func (c *MemoryCache) get(key string) (entry, bool) {
	e, ok := c.entries[key]
	if ok && !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return entry{}, false
	}
	return e, ok
}

func (c *MemoryCache) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	e, ok := c.get(key)
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, errors.Wrapf(err, "decoding %s", key)
	}
	return true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, val interface{}, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	e := entry{data: data}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	e, ok := c.get(key)
	if ok {
		if err := json.Unmarshal(e.data, &n); err != nil {
			return 0, errors.Wrapf(err, "%s is not an integer", key)
		}
	}
	n++
	e.data = []byte(strconv.FormatInt(n, 10))
	c.entries[key] = e
	return n, nil
}

// NopCache never stores anything.
type NopCache struct{}

var _ core.Cache = NopCache{}

func (NopCache) Get(context.Context, string, interface{}) (bool, error) { return false, nil }
func (NopCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (NopCache) Incr(context.Context, string) (int64, error) { return 0, nil }
