package dbrouter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/railwire/tenantdb/pkg/logger"
)

// Router is the facade: the three entry points Get,
// Tenant, and Org, backed by a connection cache for handle stability.
type Router struct {
	cfg      *Config
	strategy strategy
	resolver *resolver
	adapter  Adapter
	cache    *connectionCache
	log      *slog.Logger
}

// New constructs a Router from cfg. The adapter (relational or document)
// is selected by cfg.AdapterKind; the Org URL Resolver is only built when
// cfg.Strategy is PerOrg.
func New(cfg *Config, opts ...RouterOption) (*Router, error) {
	o := &routerOptions{}
	for _, opt := range opts {
		opt(o)
	}

	log := o.log
	if log == nil {
		log = defaultRouterLogger(cfg)
	}

	var adapter Adapter
	switch cfg.AdapterKind {
	case AdapterRelational:
		adapter = newRelationalAdapter(log)
	case AdapterDocument:
		adapter = newDocumentAdapter(log)
	default:
		return nil, &ConfigurationError{Reason: "unsupported adapter kind: " + string(cfg.AdapterKind)}
	}

	r := &Router{cfg: cfg, adapter: adapter, log: log, cache: newConnectionCache(log)}

	switch cfg.Strategy {
	case StrategyShared:
		s := newSharedStrategy(cfg, adapter, log)
		s.tenantModels = o.tenantModels
		r.strategy = s
	case StrategyPerOrg:
		orgCache := o.orgCache
		if orgCache == nil {
			orgCache = newLRUOrgURLCache()
		}
		r.resolver = newResolver(cfg, orgCache, log)
		s := newPerOrgStrategy(cfg, adapter, r.resolver, log)
		s.tenantModels = o.tenantModels
		r.strategy = s
	default:
		return nil, &ConfigurationError{Reason: "unsupported strategy: " + string(cfg.Strategy)}
	}

	return r, nil
}

func defaultRouterLogger(cfg *Config) *slog.Logger {
	return logger.New(logger.WithEnvironment(cfg.Environment, "tenantdb"))
}

// Get returns a handle scoped to the ambient configuration. It fails with
// ApiUsageError whenever an org or tenant selection is actually required:
// Org(id) must be called first when OrgEnabled, and Tenant(id) must be
// called first when TenantEnabled && !OrgEnabled.
func (r *Router) Get(ctx context.Context) (*Handle, error) {
	if r.cfg.OrgEnabled {
		return nil, &ApiUsageError{Reason: "organizations are enabled; call Router.Org(id).Get() or Router.Org(id).Tenant(id)"}
	}
	if r.cfg.TenantEnabled {
		return nil, &ApiUsageError{Reason: "tenants are enabled; call Router.Tenant(id)"}
	}
	return r.resolveHandle(ctx, Scope{})
}

// Tenant returns a handle scoped to tenant id. Legal only when
// TenantEnabled && !OrgEnabled; otherwise fails with ApiUsageError naming
// the correct call form.
func (r *Router) Tenant(ctx context.Context, id string) (*Handle, error) {
	if !r.cfg.TenantEnabled || r.cfg.OrgEnabled {
		return nil, &ApiUsageError{Reason: fmt.Sprintf("tenant(%q) is not valid with this configuration; use org(<id>).tenant(%q)", id, id)}
	}
	if err := requireValidIdentifier(id, KindTenant); err != nil {
		return nil, err
	}
	return r.resolveHandle(ctx, Scope{TenantID: id})
}

// Org returns a builder scoped to organization id. Legal only when
// OrgEnabled.
func (r *Router) Org(id string) *OrgBuilder {
	return &OrgBuilder{router: r, orgID: id}
}

// OrgBuilder is returned by Router.Org; it exposes .Get() and .Tenant(id)
// for the selected organization.
type OrgBuilder struct {
	router *Router
	orgID  string
}

// Get returns a handle scoped to the organization alone (no row-level
// tenant filter).
func (b *OrgBuilder) Get(ctx context.Context) (*Handle, error) {
	if !b.router.cfg.OrgEnabled {
		return nil, &ApiUsageError{Reason: "organizations are not enabled"}
	}
	if err := requireValidIdentifier(b.orgID, KindOrg); err != nil {
		return nil, err
	}
	return b.router.resolveHandle(ctx, Scope{OrgID: b.orgID})
}

// Tenant returns a handle scoped to tenant id within the organization.
func (b *OrgBuilder) Tenant(ctx context.Context, tenantID string) (*Handle, error) {
	if !b.router.cfg.OrgEnabled {
		return nil, &ApiUsageError{Reason: "organizations are not enabled"}
	}
	if err := requireValidIdentifier(b.orgID, KindOrg); err != nil {
		return nil, err
	}
	if err := requireValidIdentifier(tenantID, KindTenant); err != nil {
		return nil, err
	}
	return b.router.resolveHandle(ctx, Scope{OrgID: b.orgID, TenantID: tenantID})
}

// Handle resolves scope directly, validating whichever of OrgID/TenantID
// are set. It is the only entry point that can populate Scope.AppID: Get,
// Tenant, and Org never set it, since app identity is meant to be supplied
// explicitly by the caller rather than inferred from ambient request state.
// Callers that enabled multi-app isolation via Config.WithAppScoping use
// this instead of Tenant/Org.Tenant when a request's app id is known.
func (r *Router) Handle(ctx context.Context, scope Scope) (*Handle, error) {
	if scope.OrgID != "" {
		if err := requireValidIdentifier(scope.OrgID, KindOrg); err != nil {
			return nil, err
		}
	}
	if scope.TenantID != "" {
		if err := requireValidIdentifier(scope.TenantID, KindTenant); err != nil {
			return nil, err
		}
	}
	return r.resolveHandle(ctx, scope)
}

// resolveHandle consults the connection cache, constructing via the active
// strategy on a cold miss; repeated calls with the same scope return the
// same handle.
func (r *Router) resolveHandle(ctx context.Context, scope Scope) (*Handle, error) {
	return r.cache.get(ctx, scope.Key(), scope, func(ctx context.Context) (*Handle, error) {
		return r.strategy.handle(ctx, scope)
	})
}

// CreateTenant, DeleteTenant, TenantExists, and ListTenants expose the
// active strategy's administrative surface (row-level tenants for Shared,
// organizations for PerOrg).
func (r *Router) CreateTenant(ctx context.Context, id string) error {
	return r.strategy.createTenant(ctx, id)
}

func (r *Router) DeleteTenant(ctx context.Context, id string, confirm bool) error {
	return r.strategy.deleteTenant(ctx, id, confirm)
}

func (r *Router) TenantExists(ctx context.Context, id string) (bool, error) {
	return r.strategy.tenantExists(ctx, id)
}

func (r *Router) ListTenants(ctx context.Context) ([]string, error) {
	return r.strategy.listTenants(ctx)
}

// Metrics returns the Org URL Resolver's metrics; zero-valued when the
// active strategy is Shared (no resolver exists).
func (r *Router) Metrics() ResolverMetrics {
	if r.resolver == nil {
		return ResolverMetrics{}
	}
	return r.resolver.metrics()
}

// ForceCircuitOpen and ForceCircuitClose expose manual breaker control for
// tests that need to exercise the open/closed paths without driving five
// real resolver failures.
func (r *Router) ForceCircuitOpen(orgID string) {
	if r.resolver != nil {
		r.resolver.forceOpen(orgID)
	}
}

func (r *Router) ForceCircuitClose(orgID string) {
	if r.resolver != nil {
		r.resolver.forceClose(orgID)
	}
}

// Shutdown closes every cached handle concurrently, bounded by a grand
// total timeout, then releases adapter-wide resources.
func (r *Router) Shutdown(ctx context.Context) error {
	r.cache.shutdown(ctx)
	return r.adapter.Close(ctx)
}

// clearCache empties the connection cache without closing the adapter, a
// testability hook for tests that need a fresh cache between cases.
func (r *Router) clearCache() {
	r.cache.lru.Clear()
}
