// Package tenant resolves inbound requests to a tenant (C2) and manages
// tenant CRUD/branding/status lifecycle.
//
// Grounded on the teacher's auth/tenant/resolver.go (host-normalization,
// subdomain-slug extraction) extended with the path-prefix/header/query/
// default fallback chain and branding cache the teacher's resolver
// lacked.
package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nebularis/iam/auth/core"
	"github.com/nebularis/iam/auth/kv"
)

// HostResolver implements core.TenantResolver using the six-step
// resolution order: custom domain, subdomain, path prefix, header, query
// parameter, default tenant.
type HostResolver struct {
	domains    core.DomainStore
	tenants    core.TenantStore
	baseDomain string
	cache      kv.Adapter
	cacheTTL   time.Duration
}

// NewHostResolver creates a new HostResolver. cache may be nil; it is
// kept on the resolver but ResolveTenant does not read it, so every
// resolution queries the domain and tenant stores.
func NewHostResolver(domains core.DomainStore, tenants core.TenantStore, baseDomain string, cache kv.Adapter) *HostResolver {
	return &HostResolver{
		domains:    domains,
		tenants:    tenants,
		baseDomain: baseDomain,
		cache:      cache,
		cacheTTL:   time.Hour,
	}
}

// ResolveTenant implements core.TenantResolver.
func (r *HostResolver) ResolveTenant(ctx context.Context, host, path, headerTenantID, queryTenantID string) (*core.Tenant, error) {
	host = normalizeHost(host)

	// 1. Exact custom-domain match.
	if domain, err := r.domains.GetByDomain(ctx, host); err == nil && domain != nil {
		if domain.VerifiedAt == nil {
			return nil, fmt.Errorf("domain not verified")
		}
		return r.checkStatus(r.tenants.GetByID(ctx, domain.TenantID))
	}

	// 2. Subdomain of base domain.
	if slug := extractSlug(host, r.baseDomain); slug != "" {
		if t, err := r.tenants.GetBySlug(ctx, slug); err == nil {
			return r.checkStatus(t, nil)
		}
	}

	// 3. Path prefix /tenants/<slug>/.
	if slug := extractPathSlug(path); slug != "" {
		if t, err := r.tenants.GetBySlug(ctx, slug); err == nil {
			return r.checkStatus(t, nil)
		}
	}

	// 4. X-Tenant-ID header.
	if headerTenantID != "" {
		if t, err := r.tenants.GetByID(ctx, headerTenantID); err == nil {
			return r.checkStatus(t, nil)
		}
	}

	// 5. Query parameter.
	if queryTenantID != "" {
		if t, err := r.tenants.GetByID(ctx, queryTenantID); err == nil {
			return r.checkStatus(t, nil)
		}
	}

	// 6. Default tenant.
	if t, err := r.tenants.GetByID(ctx, core.DefaultTenantID); err == nil {
		return r.checkStatus(t, nil)
	}

	return nil, core.ErrTenantNotFound
}

func (r *HostResolver) checkStatus(t *core.Tenant, err error) (*core.Tenant, error) {
	if err != nil {
		return nil, core.ErrTenantNotFound
	}
	switch t.Status {
	case "suspended":
		return nil, core.ErrTenantSuspended
	case "deleted":
		return nil, core.ErrTenantDeleted
	}
	return t, nil
}

func normalizeHost(host string) string {
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err == nil {
			host = u.Host
		}
	}
	if i := strings.Index(host, ":"); i != -1 {
		host = host[:i]
	}
	return strings.ToLower(host)
}

// extractSlug extracts the tenant slug from a subdomain, e.g.
// tenantSlug.auth.example.com -> tenantSlug.
func extractSlug(host, baseDomain string) string {
	host = normalizeHost(host)
	baseDomain = normalizeHost(baseDomain)

	if !strings.HasSuffix(host, baseDomain) {
		return ""
	}

	prefix := strings.TrimSuffix(host, baseDomain)
	prefix = strings.TrimSuffix(prefix, ".")

	parts := strings.Split(prefix, ".")
	if len(parts) >= 1 && parts[0] != "" {
		return parts[0]
	}
	return ""
}

// extractPathSlug extracts the tenant slug from a /tenants/<slug>/...
// request path.
func extractPathSlug(path string) string {
	path = strings.TrimPrefix(path, "/")
	if !strings.HasPrefix(path, "tenants/") {
		return ""
	}
	rest := strings.TrimPrefix(path, "tenants/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	return parts[0]
}

// BrandingCache fronts tenant branding lookups with a TTL-cached read,
// invalidated explicitly on update.
type BrandingCache struct {
	tenants core.TenantStore
	cache   kv.Adapter
	ttl     time.Duration
}

func NewBrandingCache(tenants core.TenantStore, cache kv.Adapter) *BrandingCache {
	return &BrandingCache{tenants: tenants, cache: cache, ttl: time.Hour}
}

func (b *BrandingCache) GetBranding(ctx context.Context, tenantID string) (*core.TenantBranding, error) {
	key := "branding:" + tenantID
	if b.cache != nil {
		if raw, ok, err := b.cache.Get(ctx, key); err == nil && ok {
			var branding core.TenantBranding
			if json.Unmarshal(raw, &branding) == nil {
				return &branding, nil
			}
		}
	}
	t, err := b.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if b.cache != nil {
		if raw, err := json.Marshal(t.Branding); err == nil {
			_ = b.cache.Set(ctx, key, raw, b.ttl)
		}
	}
	return &t.Branding, nil
}

// Invalidate drops any cached branding for tenantID. Safe to call even
// when no cache is configured.
func (b *BrandingCache) Invalidate(ctx context.Context, tenantID string) error {
	if b.cache == nil {
		return nil
	}
	return b.cache.Delete(ctx, "branding:"+tenantID)
}
