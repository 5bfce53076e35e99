package dbrouter

import (
	"context"
	"log/slog"
)

// sharedStrategy implements the Shared isolation variant: one driver
// client for the base URL, with row-level tenant isolation via the
// rewriter. Administrative operations consult the adapter's registry when
// present.
type sharedStrategy struct {
	cfg     *Config
	adapter Adapter
	log     *slog.Logger

	// tenantModels restricts the rewriter's scope; nil means every model
	// is considered tenant-capable.
	tenantModels map[string]bool
}

func newSharedStrategy(cfg *Config, adapter Adapter, log *slog.Logger) *sharedStrategy {
	return &sharedStrategy{cfg: cfg, adapter: adapter, log: log}
}

func (s *sharedStrategy) handle(ctx context.Context, scope Scope) (*Handle, error) {
	raw, err := s.adapter.Connect(ctx, s.cfg.BaseURL)
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

func (s *sharedStrategy) createTenant(ctx context.Context, id string) error {
	raw, err := s.adapter.Connect(ctx, s.cfg.BaseURL)
	if err != nil {
		return err
	}
	exists, err := s.adapter.Registry().Exists(ctx, raw, id)
	if err != nil {
		return err
	}
	if exists {
		return &ConflictError{Kind: "tenant", ID: id}
	}
	// Registry writes are best-effort and idempotent: a
	// failure here doesn't block tenant usage, since row-level isolation
	// works purely off the rewriter without the registry existing at all.
	if err := s.adapter.Registry().Register(ctx, raw, id); err != nil {
		s.log.Warn("shared strategy: registry write failed, continuing", slog.String("tenant_id", id), slog.Any("error", err))
	}
	return nil
}

// deleteTenant issues a delete across the models listed in tenantModels. It
// requires explicit confirmation. When tenantModels is nil no model is
// listed, so no rows are deleted; only the registry entry is removed.
func (s *sharedStrategy) deleteTenant(ctx context.Context, id string, confirm bool) error {
	if !confirm {
		return &ApiUsageError{Reason: "deleteTenant requires confirm:true"}
	}
	if err := requireValidIdentifier(id, KindTenant); err != nil {
		return err
	}

	raw, err := s.adapter.Connect(ctx, s.cfg.BaseURL)
	if err != nil {
		return err
	}

	// Deletion is tenant-wide, not app-scoped: it removes the tenant's rows
	// across every app sharing the database, so no appID is bound here.
	rw := newRewriter(s.cfg, id, "", s.tenantModels, s.log)
	client := s.adapter.Intercept(raw, Scope{TenantID: id}, rw)

	ops := make([]Operation, 0, len(s.tenantModels))
	for model := range s.tenantModels {
		ops = append(ops, Operation{Class: OpWrite, Model: model, Filter: map[string]any{}})
	}
	// All deletes run in a single transaction so a failure partway through
	// (e.g. one model's table is locked) leaves no model partially deleted.
	if _, err := client.ExecuteTx(ctx, ops); err != nil {
		return err
	}

	_ = s.adapter.Registry().Unregister(ctx, raw, id)
	return nil
}

func (s *sharedStrategy) tenantExists(ctx context.Context, id string) (bool, error) {
	raw, err := s.adapter.Connect(ctx, s.cfg.BaseURL)
	if err != nil {
		return false, err
	}
	return s.adapter.Registry().Exists(ctx, raw, id)
}

// listTenants returns the registry's contents. Models lacking tenant_id
// are never scanned to enumerate tenants.
func (s *sharedStrategy) listTenants(ctx context.Context) ([]string, error) {
	raw, err := s.adapter.Connect(ctx, s.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return s.adapter.Registry().List(ctx, raw)
}
