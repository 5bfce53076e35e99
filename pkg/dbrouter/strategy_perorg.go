package dbrouter

import (
	"context"
	"log/slog"
)

// perOrgStrategy implements the PerOrg isolation variant: the URL comes
// from the Org URL Resolver, and a rewriter is composed on top only when
// tenant scoping is also requested within the org.
type perOrgStrategy struct {
	cfg      *Config
	adapter  Adapter
	resolver *resolver
	log      *slog.Logger

	tenantModels map[string]bool
}

func newPerOrgStrategy(cfg *Config, adapter Adapter, res *resolver, log *slog.Logger) *perOrgStrategy {
	return &perOrgStrategy{cfg: cfg, adapter: adapter, resolver: res, log: log}
}

func (s *perOrgStrategy) handle(ctx context.Context, scope Scope) (*Handle, error) {
	url, err := s.resolver.resolve(ctx, scope.OrgID)
	if err != nil {
		return nil, err
	}

	raw, err := s.adapter.Connect(ctx, url)
	if err != nil {
		return nil, err
	}

	var rw *rewriter
	if s.cfg.TenantEnabled && scope.TenantID != "" {
		rw = newRewriter(s.cfg, scope.TenantID, scope.AppID, s.tenantModels, s.log)
	}

	client := s.adapter.Intercept(raw, scope, rw)
	return &Handle{scope: scope, client: client, cfg: s.cfg, vectors: &VectorOps{client: client}}, nil
}

// createTenant is the PerOrg variant's create-org operation and a no-op at
// the database level: it validates the org id and succeeds once the org's
// URL resolves. No registry entry is written.
func (s *perOrgStrategy) createTenant(ctx context.Context, orgID string) error {
	if err := requireValidIdentifier(orgID, KindOrg); err != nil {
		return err
	}
	_, err := s.resolver.resolve(ctx, orgID)
	return err
}

// deleteTenant is the PerOrg variant's delete-org operation and likewise a
// no-op at the database level: it checks the confirmation flag and validates
// the org id. The org's cached URL and cached handle are not evicted.
func (s *perOrgStrategy) deleteTenant(ctx context.Context, orgID string, confirm bool) error {
	if !confirm {
		return &ApiUsageError{Reason: "deleteOrg requires confirm:true"}
	}
	return requireValidIdentifier(orgID, KindOrg)
}

func (s *perOrgStrategy) tenantExists(ctx context.Context, orgID string) (bool, error) {
	for _, cached := range s.resolver.cachedOrgIDs() {
		if cached == orgID {
			return true, nil
		}
	}
	_, err := s.resolver.resolve(ctx, orgID)
	return err == nil, err
}

// listTenants returns org ids currently present in the resolver's URL
// cache — best-effort, since a full enumeration would require a listing
// capability the resolver hook may not support.
func (s *perOrgStrategy) listTenants(ctx context.Context) ([]string, error) {
	return s.resolver.cachedOrgIDs(), nil
}
