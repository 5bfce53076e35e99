package dbrouter

import (
	"log/slog"
	"sync"
)

// rewriter is the correctness heart of the shared-database strategy. It
// injects a fixed tenant id (and optional app id) into every Operation's
// filter or payload so that application code cannot bypass scoping by
// constructing an arbitrary where-clause.
type rewriter struct {
	tenantColumn string
	tenantValue  string
	appColumn    string
	appValue     string
	appScoped    bool

	// tenantModels restricts rewriting to models known to carry
	// tenantColumn; models absent from this set are passed through
	// unmodified and logged once.
	tenantModels map[string]bool

	log          *slog.Logger
	warnedOnce   sync.Map // model name -> struct{}
}

// newRewriter builds a rewriter bound to a single tenant (and, if
// cfg.AppScoped, appID) value. appID is ignored when AppScoped is false.
// tenantModels is nil-safe: a nil map means every model is considered in
// scope (used when the caller hasn't registered a model allowlist).
func newRewriter(cfg *Config, tenantID string, appID string, tenantModels map[string]bool, log *slog.Logger) *rewriter {
	rw := &rewriter{
		tenantColumn: cfg.TenantColumn,
		tenantValue:  tenantID,
		tenantModels: tenantModels,
		log:          log,
	}
	if cfg.AppScoped {
		rw.appScoped = true
		rw.appColumn = cfg.AppColumn
		rw.appValue = appID
	}
	return rw
}

// inScope reports whether model carries the tenant column. A nil allowlist
// means every model is in scope.
func (rw *rewriter) inScope(model string) bool {
	if rw.tenantModels == nil {
		return true
	}
	in := rw.tenantModels[model]
	if !in {
		if _, logged := rw.warnedOnce.LoadOrStore(model, struct{}{}); !logged && rw.log != nil {
			rw.log.Warn("model has no tenant column, rewriter skipping", slog.String("model", model))
		}
	}
	return in
}

// Rewrite applies the composition rules to op, returning
// a new Operation with scoping predicates/columns injected. The input op
// is never mutated in place so callers can safely reuse it.
func (rw *rewriter) Rewrite(op Operation) (Operation, error) {
	out := op
	if !rw.inScope(op.Model) {
		return out, nil
	}

	switch op.Class {
	case OpCreate:
		out.Data = rw.injectData(op.Data)
		if op.DataList != nil {
			out.DataList = make([]map[string]any, len(op.DataList))
			for i, row := range op.DataList {
				out.DataList[i] = rw.injectData(row)
			}
		}
	case OpUpsert:
		out.Data = rw.injectData(op.Data)
		out.Filter = rw.injectFilter(op.Filter)
	default: // OpRead, OpWrite
		out.Filter = rw.injectFilter(op.Filter)
	}

	return out, nil
}

// injectData overwrites the scoping columns on a create/upsert payload
// regardless of what the caller supplied, so application code cannot smuggle
// a different tenant id through the create path.
func (rw *rewriter) injectData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	out[rw.tenantColumn] = rw.tenantValue
	if rw.appScoped {
		out[rw.appColumn] = rw.appValue
	}
	return out
}

// injectFilter applies the three composition rules:
//
//  1. An "AND" array gets the tenant predicate appended, unless a conjunct
//     already binds the tenant column.
//  2. An "OR" array is wrapped: AND[ tenant_id=T, OR(...) ].
//  3. Otherwise the tenant predicate is added as a top-level conjunct, if
//     not already present.
func (rw *rewriter) injectFilter(filter map[string]any) map[string]any {
	if filter == nil {
		filter = map[string]any{}
	}

	if and, ok := filter["AND"].([]map[string]any); ok {
		if rw.boundIn(and) {
			return filter
		}
		out := cloneFilter(filter)
		out["AND"] = append(append([]map[string]any{}, and...), rw.predicate())
		return out
	}

	if or, ok := filter["OR"].([]map[string]any); ok {
		return map[string]any{
			"AND": []map[string]any{
				rw.predicate(),
				{"OR": or},
			},
		}
	}

	if rw.bound(filter) {
		return filter
	}
	out := cloneFilter(filter)
	for k, v := range rw.predicate() {
		out[k] = v
	}
	return out
}

// predicate returns the scoping predicate fragment as a flat map, e.g.
// {"tenant_id": "acme"} or {"tenant_id": "acme", "app_id": "billing"}.
func (rw *rewriter) predicate() map[string]any {
	p := map[string]any{rw.tenantColumn: rw.tenantValue}
	if rw.appScoped {
		p[rw.appColumn] = rw.appValue
	}
	return p
}

// bound reports whether filter already constrains the tenant column at the
// top level.
func (rw *rewriter) bound(filter map[string]any) bool {
	_, ok := filter[rw.tenantColumn]
	return ok
}

// boundIn reports whether any conjunct in an AND array already binds the
// tenant column.
func (rw *rewriter) boundIn(conjuncts []map[string]any) bool {
	for _, c := range conjuncts {
		if rw.bound(c) {
			return true
		}
	}
	return false
}

func cloneFilter(filter map[string]any) map[string]any {
	out := make(map[string]any, len(filter)+1)
	for k, v := range filter {
		out[k] = v
	}
	return out
}
