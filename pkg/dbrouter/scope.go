package dbrouter

import "strings"

// Scope is the canonical tuple identifying which org/tenant/app a handle
// serves. Two Scope values with equal Key() share the same cached handle.
type Scope struct {
	OrgID    string
	TenantID string
	AppID    string
}

// Key returns the canonical cache key for this scope. The org and tenant
// segments are always present, possibly empty ("org=|tenant=acme"); the app
// segment is omitted when AppID is empty, so Scope{} and Scope{OrgID: ""}
// both key to the same root handle.
func (s Scope) Key() string {
	var b strings.Builder
	b.WriteString("org=")
	b.WriteString(s.OrgID)
	b.WriteString("|tenant=")
	b.WriteString(s.TenantID)
	if s.AppID != "" {
		b.WriteString("|app=")
		b.WriteString(s.AppID)
	}
	return b.String()
}

// IsRoot reports whether the scope has neither an org nor a tenant
// component, i.e. it addresses the base, unscoped configuration.
func (s Scope) IsRoot() bool {
	return s.OrgID == "" && s.TenantID == ""
}
