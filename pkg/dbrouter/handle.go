package dbrouter

import (
	"context"
	"errors"
)

// Handle is the opaque, scope-bound database handle returned by Router's
// entry points. All operations issued
// through Do pass through the rewriter bound at construction time; Raw
// bypasses it entirely as an explicit escape hatch.
type Handle struct {
	scope   Scope
	client  ScopedClient
	cfg     *Config
	vectors *VectorOps
}

// Do executes op through the rewriter and underlying driver.
func (h *Handle) Do(ctx context.Context, op Operation) (Result, error) {
	res, err := h.client.Execute(ctx, op)
	if err != nil {
		var de *DriverError
		if errors.As(err, &de) {
			return Result{}, err
		}
		return Result{}, &DriverError{Err: err}
	}
	return res, nil
}

// Raw returns the underlying driver handle (*pgxpool.Pool, *mongo.Database,
// or equivalent) for operations the abstraction doesn't cover. Application
// code must type-assert to the concrete type matching its configured
// AdapterKind. No rewriting applies to anything issued against it.
func (h *Handle) Raw() any {
	return h.client.Unwrap()
}

// Close is a no-op: the connection cache owns the handle's lifetime.
func (h *Handle) Close() error { return nil }

// Scope returns the (orgId?, tenantId?, appId?) tuple this handle is bound
// to.
func (h *Handle) Scope() Scope { return h.scope }

// Vectors returns a vector-operations accessor backed by the same client,
// gated by Config.VectorsEnabled. This is a feature gate only: it opens no
// new connection, it just types the existing one for vector operations.
func (h *Handle) Vectors() (*VectorOps, error) {
	if !h.cfg.VectorsEnabled {
		return nil, &ConfigurationError{Reason: "vector operations are disabled; set VOILA_DB_VECTORS=true"}
	}
	return h.vectors, nil
}

// VectorOps exposes vector-similarity operations against the same
// underlying client as Do, for adapters/deployments that store embeddings
// alongside relational or document data. The core doesn't implement
// similarity search itself (out of scope for this layer); it only gates
// and routes to the raw client.
type VectorOps struct {
	client ScopedClient
}

// Raw returns the underlying driver handle for issuing vector queries
// directly (e.g. pgvector operators via *pgxpool.Pool, or a dedicated
// vector index client).
func (v *VectorOps) Raw() any { return v.client.Unwrap() }
