package dbrouter

import "log/slog"

// RouterOption configures a Router at construction time.
type RouterOption func(*routerOptions)

type routerOptions struct {
	tenantModels map[string]bool
	log          *slog.Logger
	orgCache     OrgURLCache
}

// WithTenantModels restricts the rewriter to the given model names; any
// other model is treated as out-of-scope and passed through unrewritten.
// Without this option every model is considered tenant-capable.
func WithTenantModels(models ...string) RouterOption {
	return func(o *routerOptions) {
		o.tenantModels = make(map[string]bool, len(models))
		for _, m := range models {
			o.tenantModels[m] = true
		}
	}
}

// WithLogger overrides the Router's logger; by default one is built from
// pkg/logger per Config.Environment.
func WithLogger(log *slog.Logger) RouterOption {
	return func(o *routerOptions) { o.log = log }
}

// WithOrgURLCache overrides the Org URL Resolver's cache backend, e.g. to a
// Redis-backed cache shared across instances. By default an in-process LRU
// cache is used.
func WithOrgURLCache(c OrgURLCache) RouterOption {
	return func(o *routerOptions) { o.orgCache = c }
}
