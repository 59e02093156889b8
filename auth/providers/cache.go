package providers

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/kv"
)

// cache is a TTL+LRU read-through cache for providers, backed by a
// kv.Adapter for the actual value storage. The kv.Adapter interface has
// no notion of "evict the least-recently-used entry when full", so the
// LRU bookkeeping (key order, eviction past maxEntries) lives here;
// kv.Adapter only needs to do expiring key/value storage, which is the
// same contract the RBAC enrichment cache (C8) and the tenant resolver
// consume.
type cache struct {
	adapter    kv.Adapter
	ttl        time.Duration
	maxEntries int

	mu    sync.Mutex
	order *list.List
	elems map[string]*list.Element
}

func newCache(adapter kv.Adapter, ttl time.Duration, maxEntries int) *cache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &cache{
		adapter:    adapter,
		ttl:        ttl,
		maxEntries: maxEntries,
		order:      list.New(),
		elems:      make(map[string]*list.Element),
	}
}

func (c *cache) touch(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.elems[key]; ok {
		c.order.MoveToFront(elem)
		return
	}
	elem := c.order.PushFront(key)
	c.elems[key] = elem

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		oldestKey := oldest.Value.(string)
		c.order.Remove(oldest)
		delete(c.elems, oldestKey)
		_ = c.adapter.Delete(context.Background(), oldestKey)
	}
}

func (c *cache) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.elems[key]; ok {
		c.order.Remove(elem)
		delete(c.elems, key)
	}
}

func (c *cache) get(ctx context.Context, key string) (*core.Provider, bool) {
	data, ok, err := c.adapter.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	provider, err := unmarshalProvider(data)
	if err != nil {
		return nil, false
	}
	c.touch(key)
	return provider, true
}

func (c *cache) set(ctx context.Context, key string, provider *core.Provider) {
	data, err := marshalProvider(provider)
	if err != nil {
		return
	}
	if err := c.adapter.Set(ctx, key, data, c.ttl); err != nil {
		return
	}
	c.touch(key)
}

func (c *cache) delete(key string) {
	_ = c.adapter.Delete(context.Background(), key)
	c.forget(key)
}

// deletePrefix drops every tracked key starting with prefix. Only
// tracks keys this cache instance has itself set, which is sufficient
// since providers.Service is the sole writer of provider:<tenant>:*
// keys in the shared kv.Adapter.
func (c *cache) deletePrefix(prefix string) {
	c.mu.Lock()
	var toDelete []string
	for key := range c.elems {
		if strings.HasPrefix(key, "provider:"+prefix) {
			toDelete = append(toDelete, key)
		}
	}
	c.mu.Unlock()

	for _, key := range toDelete {
		c.delete(key)
	}
}
