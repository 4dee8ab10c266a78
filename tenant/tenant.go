// Package tenant resolves which product a request is served for. Coaching
// hosts land on the coaches area after sign-in unless the caller asked for
// a specific page.
package tenant

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// CoachingRedirect is the default post sign-in target for coaching tenants.
const CoachingRedirect = "/coaches/auth"

// Context is the tenant information attached to a request.
type Context struct {
	Coaching bool
}

type contextKey string

const tenantContextKey contextKey = "tenant"

// Resolver maps request hosts to tenants.
type Resolver struct {
	coachingHosts map[string]struct{}
}

// NewResolver creates a Resolver. Hosts are compared case-insensitively and
// without port.
func NewResolver(coachingHosts []string) *Resolver {
	hosts := make(map[string]struct{}, len(coachingHosts))
	for _, h := range coachingHosts {
		if h = normalizeHost(h); h != "" {
			hosts[h] = struct{}{}
		}
	}
	return &Resolver{coachingHosts: hosts}
}

// Resolve returns the tenant for r.
func (res *Resolver) Resolve(r *http.Request) Context {
	_, coaching := res.coachingHosts[normalizeHost(r.Host)]
	return Context{Coaching: coaching}
}

// Middleware stores the resolved tenant in the request context.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithContext(r.Context(), res.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithContext returns ctx carrying tc.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, tenantContextKey, tc)
}

// FromContext returns the tenant stored by Middleware, or the zero tenant.
func FromContext(ctx context.Context) Context {
	tc, _ := ctx.Value(tenantContextKey).(Context)
	return tc
}

// DefaultRedirect is the redirect target used when none was requested.
func (tc Context) DefaultRedirect() string {
	if tc.Coaching {
		return CoachingRedirect
	}
	return ""
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.TrimSuffix(h, ".")
}
