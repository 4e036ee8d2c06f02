package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type authContextKey struct{}

type requestIDContextKey struct{}

type authPrincipal struct {
	OwnerID   int64
	SessionID string
}

func contextWithAuthPrincipal(ctx context.Context, principal authPrincipal) context.Context {
	return context.WithValue(ctx, authContextKey{}, principal)
}

func authPrincipalFromContext(ctx context.Context) (authPrincipal, bool) {
	if ctx == nil {
		return authPrincipal{}, false
	}
	principal, ok := ctx.Value(authContextKey{}).(authPrincipal)
	return principal, ok
}

// ownerFromRequest returns the authenticated owner. Routes behind withAuth
// always have one.
func ownerFromRequest(r *http.Request) (int64, bool) {
	principal, ok := authPrincipalFromContext(r.Context())
	if !ok || principal.OwnerID <= 0 {
		return 0, false
	}
	return principal.OwnerID, true
}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		return strings.ToLower(proto)
	}
	return "http"
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(a)), []byte(b)) == 1
}
