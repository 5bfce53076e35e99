package dbrouter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/railwire/tenantdb/pkg/config"
	"github.com/railwire/tenantdb/pkg/environment"
)

// AdapterKind identifies the underlying driver family, derived from the
// base URL scheme.
type AdapterKind string

const (
	AdapterRelational AdapterKind = "relational"
	AdapterDocument   AdapterKind = "document"
)

// Strategy identifies the isolation variant, derived from OrgsEnabled.
type Strategy string

const (
	StrategyShared Strategy = "shared"
	StrategyPerOrg Strategy = "per_org"
)

// TenantColumn and AppColumn are the fixed symbolic column/field names the
// rewriter injects; AppColumn is only used when AppScoped is set.
const (
	TenantColumn = "tenant_id"
	AppColumn    = "app_id"
)

// envConfig is the raw, tag-driven shape loaded from the environment. Config
// is derived from it so that Strategy/AdapterKind/BaseURL validation happen
// exactly once, in deriveConfig.
type envConfig struct {
	BaseURL             string        `env:"DATABASE_URL,required"`
	OrgsEnabled         bool          `env:"VOILA_DB_ORGS" envDefault:"false"`
	TenantsEnabled      bool          `env:"VOILA_DB_TENANTS" envDefault:"false"`
	VectorsEnabled      bool          `env:"VOILA_DB_VECTORS" envDefault:"false"`
	NodeEnv             string        `env:"NODE_ENV" envDefault:"development"`
	OrgCacheTTLMillis   int64         `env:"VOILA_ORG_CACHE_TTL" envDefault:"300000"`
	EmergencyURLTemplate string       `env:"VOILA_DB_EMERGENCY_URL" envDefault:"postgresql://localhost:5432/{org}_database"`
}

// Config is the immutable, process-wide configuration record produced by
// LoadConfig. It is safe to share across goroutines once constructed.
type Config struct {
	// BaseURL is the fallback/template database URL. May contain the
	// literal placeholder "{org}".
	BaseURL string

	// OrgEnabled activates per-organization scoping.
	OrgEnabled bool

	// TenantEnabled activates row-level tenant scoping.
	TenantEnabled bool

	// VectorsEnabled exposes a vector-operations accessor on Handle; same
	// backing client, feature gate only.
	VectorsEnabled bool

	// Environment is "development", "staging", or "production".
	Environment string

	// Strategy is derived: PerOrg if OrgEnabled, else Shared.
	Strategy Strategy

	// AdapterKind is derived from BaseURL's scheme.
	AdapterKind AdapterKind

	// TenantColumn is the fixed symbolic column name injected by the
	// rewriter ("tenant_id").
	TenantColumn string

	// AppColumn is the optional symbolic column name ("app_id") used when
	// multi-app isolation is enabled via WithAppScoping.
	AppColumn string
	AppScoped bool

	// ResolverHook, when set, maps an OrgId to a connection URL. May fail;
	// failures degrade to fallback URLs (never surfaced to callers).
	ResolverHook func(ctx context.Context, orgID string) (string, error)

	// ResolverCacheTTL is the TTL for successfully resolved org URLs.
	ResolverCacheTTL time.Duration

	// EmergencyURLTemplate is substituted via the URL Builder when both the
	// resolver and the template URL are invalid; configurable rather than a
	// hard-coded literal.
	EmergencyURLTemplate string
}

// LoadConfig reads environment variables into a Config, deriving Strategy
// and AdapterKind and validating coherent combinations. Subsequent calls
// within the process return the same record (pkg/config caches by type).
func LoadConfig() (*Config, error) {
	var raw envConfig
	if err := config.Load(&raw); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	return deriveConfig(raw, nil)
}

// WithResolverHook attaches a user-supplied OrgId -> URL resolver function
// to an already-loaded Config. LoadConfig cannot parse functions out of the
// environment, so applications wire the hook explicitly after loading.
func (c *Config) WithResolverHook(hook func(ctx context.Context, orgID string) (string, error)) *Config {
	clone := *c
	clone.ResolverHook = hook
	return &clone
}

// WithAppScoping enables the optional app_id column/field alongside
// tenant_id for multi-app isolation within the same tenant.
func (c *Config) WithAppScoping() *Config {
	clone := *c
	clone.AppScoped = true
	clone.AppColumn = AppColumn
	return &clone
}

func deriveConfig(raw envConfig, hook func(ctx context.Context, orgID string) (string, error)) (*Config, error) {
	if strings.TrimSpace(raw.BaseURL) == "" {
		return nil, &ConfigurationError{Reason: "DATABASE_URL is required"}
	}

	kind, err := adapterKindFromURL(raw.BaseURL)
	if err != nil {
		return nil, err
	}

	strategy := StrategyShared
	if raw.OrgsEnabled {
		strategy = StrategyPerOrg
	}

	env := raw.NodeEnv
	if env == "" {
		env = string(environment.Development)
	}
	if env == string(environment.Production) && strings.Contains(raw.BaseURL, "{org}") && !raw.OrgsEnabled {
		// A template URL with org scoping disabled silently degrades to
		// using the literal "{org}" path segment. Not a hard error (only a
		// missing BaseURL or an unknown adapter kind are), but worth a
		// warning in production where it's more likely a real misconfig.
		slog.Warn("dbrouter: DATABASE_URL contains {org} but VOILA_DB_ORGS is disabled",
			"base_url", raw.BaseURL)
	}

	return &Config{
		BaseURL:              raw.BaseURL,
		OrgEnabled:           raw.OrgsEnabled,
		TenantEnabled:        raw.TenantsEnabled,
		VectorsEnabled:       raw.VectorsEnabled,
		Environment:          env,
		Strategy:             strategy,
		AdapterKind:          kind,
		TenantColumn:         TenantColumn,
		ResolverHook:         hook,
		ResolverCacheTTL:     time.Duration(raw.OrgCacheTTLMillis) * time.Millisecond,
		EmergencyURLTemplate: raw.EmergencyURLTemplate,
	}, nil
}

// adapterKindFromURL derives the AdapterKind from a URL's scheme prefix.
func adapterKindFromURL(url string) (AdapterKind, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return AdapterRelational, nil
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		return AdapterDocument, nil
	default:
		return "", &ConfigurationError{Reason: "unknown adapter kind for url scheme: " + schemeOf(url)}
	}
}

func schemeOf(url string) string {
	if idx := strings.Index(url, "://"); idx != -1 {
		return url[:idx]
	}
	return url
}
