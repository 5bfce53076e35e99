package dbrouter

import "context"

// OperationClass distinguishes how the rewriter must treat an operation's
// filter and data payload.
type OperationClass string

const (
	// OpRead covers find/query-style operations: the rewriter only touches
	// the filter.
	OpRead OperationClass = "read"

	// OpWrite covers update/delete-style operations: filter and, for
	// updates, nested relational writes are touched.
	OpWrite OperationClass = "write"

	// OpCreate covers insert/create-style operations: the rewriter injects
	// scoping columns into the payload instead of the filter.
	OpCreate OperationClass = "create"

	// OpUpsert needs both: filter injection for the match side, data
	// injection for the insert side.
	OpUpsert OperationClass = "upsert"
)

// Operation is the adapter-agnostic request the rewriter operates on. Model
// identifies the table/collection; Filter and Data are generic
// map[string]any trees so the rewriter never needs to know about SQL or
// BSON syntax, only about composing AND/OR predicates and setting keys.
type Operation struct {
	Class  OperationClass
	Model  string
	Filter map[string]any
	Data   map[string]any
	// DataList holds the per-row payloads for createMany-style operations.
	// When non-nil, the rewriter injects scoping columns into every row and
	// Data is ignored.
	DataList []map[string]any
}

// Result is the adapter-agnostic outcome of executing an Operation.
type Result struct {
	Rows         []map[string]any
	RowsAffected int64
}

// RawClient exposes the underlying driver handle for operations the
// abstraction doesn't cover.
type RawClient interface {
	// Unwrap returns the underlying *pgxpool.Pool, *mongo.Database, or
	// equivalent, as `any` so callers type-assert to the concrete driver
	// type they expect for their configured AdapterKind.
	Unwrap() any
}

// ScopedClient executes operations after the tenant/org rewriter has run.
// Adapters return one bound to a specific Scope from Intercept.
type ScopedClient interface {
	RawClient
	// Execute runs a single Operation and returns its Result.
	Execute(ctx context.Context, op Operation) (Result, error)
	// ExecuteTx runs every Operation in ops atomically: either all of them
	// commit or none do. Used by administrative operations (deleteTenant)
	// that touch several models and must not leave a tenant partially
	// deleted if a later model fails.
	ExecuteTx(ctx context.Context, ops []Operation) (Result, error)
	// Close releases any per-scope resources (e.g. a pooled connection
	// checked out for the duration of a request). Adapters that share one
	// pool across scopes may no-op.
	Close() error
}

// TenantRegistry persists and looks up which tenants/organizations exist,
// for adapters whose Strategy needs server-side bookkeeping (the Shared
// strategy keeps a tenant_registry table/collection).
type TenantRegistry interface {
	Register(ctx context.Context, client RawClient, id string) error
	Unregister(ctx context.Context, client RawClient, id string) error
	Exists(ctx context.Context, client RawClient, id string) (bool, error)
	List(ctx context.Context, client RawClient) ([]string, error)
}

// Adapter binds a driver family (relational or document) to the router.
// Connect produces a raw client for a connection URL; Intercept wraps it
// with tenant/org scoping for a given Scope.
type Adapter interface {
	Kind() AdapterKind
	// Connect opens (or returns a cached) raw client for the given URL.
	Connect(ctx context.Context, url string) (RawClient, error)
	// Intercept wraps raw in a ScopedClient that rewrites every Operation
	// through rw before executing it.
	Intercept(raw RawClient, scope Scope, rw *rewriter) ScopedClient
	// Registry returns the adapter's TenantRegistry implementation.
	Registry() TenantRegistry
	// Close releases adapter-wide resources (all cached raw clients).
	Close(ctx context.Context) error
}
