// Package dbrouter provides multi-tenant, multi-organization database routing
// and isolation for SaaS applications sitting in front of a relational or
// document database driver.
//
// The package offers three cooperating services: ownership-scoped client
// resolution (given an optional organization and tenant, return a database
// handle isolated to that scope), dynamic per-organization URL resolution
// with caching and circuit-breaking, and row-level tenant filter injection
// for shared-database deployments.
//
// # Architecture
//
// The package is built around three core concepts, generalized across two
// ownership axes (organization and tenant):
//
//  1. Strategies - Shared (one database, tenant predicates) or PerOrg (one
//     database per organization, optionally with tenant predicates within it)
//  2. Adapters - construct raw driver clients and install the query rewriter
//     as a before-all hook into the driver's per-operation pipeline
//  3. Router - the facade applications call: Get, Tenant, Org
//
// # Usage
//
//	cfg, err := dbrouter.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	router, err := dbrouter.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer router.Shutdown(context.Background())
//
//	// Row-level tenant scoping
//	handle, err := router.Tenant(ctx, "acme")
//
//	// Per-organization scoping
//	handle, err := router.Org("acme").Get(ctx)
//
//	// Per-organization + row-level tenant scoping
//	handle, err := router.Org("acme").Tenant(ctx, "team-1")
//
//	// Multi-app isolation (Config.WithAppScoping): AppID is never inferred
//	// ambiently, so it must be supplied explicitly via Handle.
//	handle, err := router.Handle(ctx, dbrouter.Scope{TenantID: "acme", AppID: "billing"})
//
// # Caching
//
// Handles are cached by scope key for the lifetime of the process, so
// repeated calls with the same scope return the same instance. The Org URL
// Resolver caches resolved URLs separately,
// with a circuit breaker that opens after repeated resolver failures and
// degrades to a template or emergency fallback URL rather than surfacing an
// error to the caller.
//
// # Safety
//
// Every query issued through a tenant-scoped handle carries the tenant
// predicate on reads and the tenant column on writes; this cannot be
// bypassed by application-supplied where structure. Raw queries bypass the
// rewriter by design and are only reachable through Handle.Raw, a
// differently named method, so application code opts in explicitly.
//
// # Error Handling
//
// Errors carry an HTTP status via the HTTPStatus() method for direct
// middleware mapping: ConfigurationError, ApiUsageError, InvalidIdError,
// NotFoundError, ConflictError, and DriverError. ResolverError is internal
// only and never surfaces — resolver failures degrade to fallback URLs.
package dbrouter
