// Package kv provides the pluggable cache/rate-limit backend (C1) that
// the tenant resolver's branding cache, the provider registry's
// credential cache, and the RBAC enrichment cache are all built on.
//
// Grounded on auth/crypto's key-management style (small focused
// constructors, no hidden globals) and shaped so a RedisAdapter and an
// in-process MemoryAdapter are interchangeable behind the same
// interface — only the in-process map path has no library to ground on
// the pack (see DESIGN.md's "Standard-library-only justifications").
package kv

import (
	"context"
	"sync"
	"time"
)

// Adapter is the storage-agnostic interface for a single cache/rate-limit
// backend. Implementations must be safe for concurrent use.
type Adapter interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Incr atomically increments key by 1, creating it with the given ttl
	// if absent, and returns the post-increment value. A fixed-window
	// counter primitive; the HTTP rate limiter does not use it.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Close() error
}

type memoryEntry struct {
	value   []byte
	counter int64
	expiry  time.Time
}

// MemoryAdapter is an in-process, mutex-guarded map. It is the
// zero-dependency default adapter and the one used in tests.
type MemoryAdapter struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

// NewMemoryAdapter creates an in-process Adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		entries: make(map[string]memoryEntry),
		clock:   time.Now,
	}
}

func (a *MemoryAdapter) Get(_ context.Context, key string) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiry.IsZero() && a.clock().After(entry.expiry) {
		delete(a.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (a *MemoryAdapter) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var expiry time.Time
	if ttl > 0 {
		expiry = a.clock().Add(ttl)
	}
	a.entries[key] = memoryEntry{value: value, expiry: expiry}
	return nil
}

func (a *MemoryAdapter) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, key)
	return nil
}

func (a *MemoryAdapter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.entries[key]
	if !ok || (!entry.expiry.IsZero() && a.clock().After(entry.expiry)) {
		entry = memoryEntry{}
		if ttl > 0 {
			entry.expiry = a.clock().Add(ttl)
		}
	}
	entry.counter++
	a.entries[key] = entry
	return entry.counter, nil
}

func (a *MemoryAdapter) Close() error {
	return nil
}

// Purge removes all expired entries. Callers may run it periodically;
// Get/Incr already self-evict lazily so this is only needed to bound
// memory under keys that are never read again.
func (a *MemoryAdapter) Purge() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	for k, v := range a.entries {
		if !v.expiry.IsZero() && now.After(v.expiry) {
			delete(a.entries, k)
		}
	}
}

// TenantScoped wraps an Adapter so every key is namespaced under a tenant,
// preventing cross-tenant cache bleed (invariant I-TENANT-ISOLATION).
type TenantScoped struct {
	adapter  Adapter
	tenantID string
}

// Tenant returns an Adapter whose keys are automatically prefixed with
// tenantID.
func Tenant(adapter Adapter, tenantID string) Adapter {
	return &TenantScoped{adapter: adapter, tenantID: tenantID}
}

func (t *TenantScoped) scope(key string) string {
	return t.tenantID + ":" + key
}

func (t *TenantScoped) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return t.adapter.Get(ctx, t.scope(key))
}

func (t *TenantScoped) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.adapter.Set(ctx, t.scope(key), value, ttl)
}

func (t *TenantScoped) Delete(ctx context.Context, key string) error {
	return t.adapter.Delete(ctx, t.scope(key))
}

func (t *TenantScoped) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return t.adapter.Incr(ctx, t.scope(key), ttl)
}

func (t *TenantScoped) Close() error {
	return nil // the underlying adapter is shared; scoped wrappers don't own its lifecycle
}
