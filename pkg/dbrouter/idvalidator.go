package dbrouter

import "regexp"

// IdentifierKind distinguishes organization from tenant identifiers so that
// reserved-word checks (relevant only to tenants, to avoid subdomain
// collisions) apply selectively.
type IdentifierKind string

const (
	KindOrg    IdentifierKind = "org"
	KindTenant IdentifierKind = "tenant"
)

// MaxIdentifierLength is the maximum length for an org or tenant
// identifier, chosen for DNS subdomain compatibility.
const MaxIdentifierLength = 63

// identifierPattern matches the identifier grammar:
// non-empty, [A-Za-z0-9_-]+. Identifiers are never normalized: case is
// significant and no trimming happens here.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// reservedTenantIDs are rejected for tenant identifiers to prevent
// subdomain collisions with application routes.
var reservedTenantIDs = map[string]struct{}{
	"www":   {},
	"api":   {},
	"admin": {},
	"null":  {},
}

// ValidateIdentifier reports whether id is a well-formed identifier of the
// given kind: non-empty, at most MaxIdentifierLength code units, matching
// [A-Za-z0-9_-]+, and — for tenants — not a reserved word.
func ValidateIdentifier(id string, kind IdentifierKind) bool {
	if id == "" || len(id) > MaxIdentifierLength {
		return false
	}
	if !identifierPattern.MatchString(id) {
		return false
	}
	if kind == KindTenant {
		if _, reserved := reservedTenantIDs[id]; reserved {
			return false
		}
	}
	return true
}

// requireValidIdentifier is the common entry-point guard used by the
// router, strategies, and middleware: it returns a typed InvalidIdError
// ready to propagate with the correct statusCode instead of a bool.
func requireValidIdentifier(id string, kind IdentifierKind) error {
	if !ValidateIdentifier(id, kind) {
		return &InvalidIdError{Kind: string(kind), Value: id}
	}
	return nil
}
