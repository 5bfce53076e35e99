package dbrouter

import "context"

// strategy combines a URL, an Adapter, and a rewriter into a scoped Handle.
// The two variants — Shared and PerOrg — differ in where the URL comes
// from and how administrative operations behave.
type strategy interface {
	// handle constructs the Handle for scope, connecting via adapter.
	handle(ctx context.Context, scope Scope) (*Handle, error)

	// createTenant / deleteTenant / tenantExists / listTenants implement
	// the Shared strategy's row-level administrative surface. The PerOrg
	// strategy implements the equivalent org-level operations under the
	// same names, since each router is configured with exactly one
	// strategy.
	createTenant(ctx context.Context, id string) error
	deleteTenant(ctx context.Context, id string, confirm bool) error
	tenantExists(ctx context.Context, id string) (bool, error)
	listTenants(ctx context.Context) ([]string, error)
}
