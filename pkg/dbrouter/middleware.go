package dbrouter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RequestInfo is the abstract request descriptor the middleware extracts
// org/tenant identifiers from. Applications using a router
// other than chi populate one by hand; NewChiRequestInfo builds one from a
// chi-routed *http.Request.
type RequestInfo struct {
	Headers     http.Header
	PathParams  map[string]string
	QueryParams url.Values
	Body        map[string]any
	UserContext map[string]any
	Host        string
}

// reservedSubdomains are never treated as an org or tenant identifier, to
// avoid collisions with application routes served from the same host.
var reservedSubdomains = map[string]struct{}{
	"www":   {},
	"api":   {},
	"admin": {},
	"app":   {},
	"mail":  {},
	"ftp":   {},
}

// ExtractorHook lets an application override extraction entirely; it runs
// first in the priority chain and, when it returns a non-empty orgID or
// tenantID, short-circuits the remaining sources.
type ExtractorHook func(info RequestInfo) (orgID, tenantID string, err error)

// NewChiRequestInfo builds a RequestInfo from a chi-routed request: path
// params come from chi's route context, body is decoded as JSON when the
// content type indicates it and restored for downstream handlers.
func NewChiRequestInfo(r *http.Request) RequestInfo {
	info := RequestInfo{
		Headers:     r.Header,
		PathParams:  map[string]string{},
		QueryParams: r.URL.Query(),
		Host:        r.Host,
	}

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			info.PathParams[key] = rctx.URLParams.Values[i]
		}
	}

	info.Body = decodeJSONBody(r)

	return info
}

// subdomain returns the leftmost label of host (port stripped), or "" if
// host has fewer than three labels (i.e. no real subdomain) or the label is
// reserved.
func subdomain(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return ""
	}
	label := parts[0]
	if _, reserved := reservedSubdomains[label]; reserved {
		return ""
	}
	return label
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// extract applies the priority chain: custom hook, header,
// path param, query param, body field, user-context field, then subdomain
// (only when neither org nor tenant was found another way, and routed to
// whichever of org/tenant is actually enabled).
func extract(cfg *Config, info RequestInfo, hook ExtractorHook) (orgID, tenantID string, err error) {
	if hook != nil {
		orgID, tenantID, err = hook(info)
		if err != nil {
			return "", "", err
		}
		if orgID != "" || tenantID != "" {
			return orgID, tenantID, nil
		}
	}

	orgID = firstNonEmpty(
		info.Headers.Get("x-org-id"),
		info.PathParams["orgId"],
		info.QueryParams.Get("orgId"),
		stringField(info.Body, "orgId"),
		stringField(info.UserContext, "orgId"),
	)
	tenantID = firstNonEmpty(
		info.Headers.Get("x-tenant-id"),
		info.PathParams["tenantId"],
		info.QueryParams.Get("tenantId"),
		stringField(info.Body, "tenantId"),
		stringField(info.UserContext, "tenantId"),
	)

	if orgID == "" && tenantID == "" {
		if sub := subdomain(info.Host); sub != "" {
			switch {
			case cfg.OrgEnabled:
				orgID = sub
			case cfg.TenantEnabled:
				tenantID = sub
			}
		}
	}

	return orgID, tenantID, nil
}

func decodeJSONBody(r *http.Request) map[string]any {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") || r.Body == nil {
		return nil
	}

	var buf strings.Builder
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return nil
	}
	raw := buf.String()
	r.Body = io.NopCloser(strings.NewReader(raw))

	var body map[string]any
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil
	}
	return body
}

// RequestScope is attached to the request context by Middleware. It holds
// the resolved handle and exposes switchTenant/switchOrg so handlers can
// re-resolve within the same request.
type RequestScope struct {
	mu        sync.Mutex
	router    *Router
	handle    *Handle
	orgID     string
	tenantID  string
	requestID string
}

// RequestID returns the correlation id attached to this request: the
// incoming X-Request-Id header when present, otherwise a generated UUID.
// Logged via context.go's RequestIDExtractor so every log line emitted while
// handling the request carries it.
func (s *RequestScope) RequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

func (s *RequestScope) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *RequestScope) OrgID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orgID
}

func (s *RequestScope) TenantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenantID
}

// SwitchTenant re-resolves the handle for a different tenant within the
// current organization (or alone, when organizations are not enabled).
func (s *RequestScope) SwitchTenant(ctx context.Context, tenantID string) (*Handle, error) {
	s.mu.Lock()
	router, orgID := s.router, s.orgID
	s.mu.Unlock()

	var h *Handle
	var err error
	if router.cfg.OrgEnabled {
		h, err = router.Org(orgID).Tenant(ctx, tenantID)
	} else {
		h, err = router.Tenant(ctx, tenantID)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.handle, s.tenantID = h, tenantID
	s.mu.Unlock()
	return h, nil
}

// SwitchOrg re-resolves the handle for a different organization, preserving
// the current tenant selection if one is set.
func (s *RequestScope) SwitchOrg(ctx context.Context, orgID string) (*Handle, error) {
	s.mu.Lock()
	router, tenantID := s.router, s.tenantID
	s.mu.Unlock()

	var h *Handle
	var err error
	if tenantID != "" {
		h, err = router.Org(orgID).Tenant(ctx, tenantID)
	} else {
		h, err = router.Org(orgID).Get(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.handle, s.orgID = h, orgID
	s.mu.Unlock()
	return h, nil
}

type requestScopeContextKey struct{}

// RequestScopeFromContext retrieves the RequestScope attached by Middleware.
func RequestScopeFromContext(ctx context.Context) (*RequestScope, bool) {
	s, ok := ctx.Value(requestScopeContextKey{}).(*RequestScope)
	return s, ok
}

// MiddlewareErrorHandler handles errors that occur during extraction or
// resolution. The default maps every error through its HTTPStatus() method
// instead of a type switch.
type MiddlewareErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

func defaultMiddlewareErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	http.Error(w, err.Error(), statusCode(err))
}

// middlewareConfig holds Middleware's configuration.
type middlewareConfig struct {
	buildInfo    func(r *http.Request) RequestInfo
	hook         ExtractorHook
	errorHandler MiddlewareErrorHandler
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithRequestInfoBuilder overrides how a RequestInfo is built from an
// *http.Request; the default is NewChiRequestInfo.
func WithRequestInfoBuilder(f func(r *http.Request) RequestInfo) MiddlewareOption {
	return func(c *middlewareConfig) { c.buildInfo = f }
}

// WithExtractorHook installs a custom extraction hook, consulted before any
// built-in source.
func WithExtractorHook(hook ExtractorHook) MiddlewareOption {
	return func(c *middlewareConfig) { c.hook = hook }
}

// WithMiddlewareErrorHandler overrides the default error handler.
func WithMiddlewareErrorHandler(h MiddlewareErrorHandler) MiddlewareOption {
	return func(c *middlewareConfig) { c.errorHandler = h }
}

// Middleware builds HTTP middleware that extracts org/tenant identifiers
// from the incoming request, resolves a scoped handle through router, and
// attaches it to the request context as a *RequestScope.
// On a missing-but-required org or tenant, or on any resolution failure, it
// invokes the configured error handler instead of calling next.
func Middleware(router *Router, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		buildInfo:    NewChiRequestInfo,
		errorHandler: defaultMiddlewareErrorHandler,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := cfg.buildInfo(r)

			orgID, tenantID, err := extract(router.cfg, info, cfg.hook)
			if err != nil {
				cfg.errorHandler(w, r, err)
				return
			}

			h, err := resolveFromRequest(r.Context(), router, orgID, tenantID)
			if err != nil {
				cfg.errorHandler(w, r, err)
				return
			}

			reqID := info.Headers.Get("X-Request-Id")
			if reqID == "" {
				reqID = uuid.NewString()
			}

			scope := &RequestScope{router: router, handle: h, orgID: orgID, tenantID: tenantID, requestID: reqID}
			ctx := context.WithValue(r.Context(), requestScopeContextKey{}, scope)
			ctx = context.WithValue(ctx, requestIDContextKey{}, reqID)
			ctx = WithHandle(ctx, h)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolveFromRequest picks the Router entry point matching which of
// orgID/tenantID were extracted.
func resolveFromRequest(ctx context.Context, router *Router, orgID, tenantID string) (*Handle, error) {
	switch {
	case orgID != "" && tenantID != "":
		return router.Org(orgID).Tenant(ctx, tenantID)
	case orgID != "":
		return router.Org(orgID).Get(ctx)
	case tenantID != "":
		return router.Tenant(ctx, tenantID)
	default:
		return router.Get(ctx)
	}
}
