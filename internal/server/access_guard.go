package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"filevault/internal/auth"
	"filevault/internal/store"
)

const sessionCookieName = "filevault_session"

var ErrUnauthorized = errors.New("unauthorized")

// AccessGuard turns an access token into the owner it was issued to.
type AccessGuard struct {
	tokens *auth.TokenIssuer
	store  store.AuthStore
	now    func() time.Time
}

func NewAccessGuard(tokens *auth.TokenIssuer, authStore store.AuthStore) *AccessGuard {
	return &AccessGuard{tokens: tokens, store: authStore, now: time.Now}
}

// Authenticate returns the owner id behind token. Missing, malformed,
// tampered, expired, and revoked tokens and tokens of disabled owners all
// fail with ErrUnauthorized.
func (g *AccessGuard) Authenticate(ctx context.Context, token string) (int64, error) {
	principal, err := g.authenticate(ctx, token)
	if err != nil {
		return 0, err
	}
	return principal.OwnerID, nil
}

func (g *AccessGuard) authenticate(ctx context.Context, token string) (authPrincipal, error) {
	if g == nil || g.tokens == nil || g.store == nil {
		return authPrincipal{}, fmt.Errorf("%w: authentication is not configured", ErrUnauthorized)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return authPrincipal{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	now := g.now().UTC()
	claims, err := g.tokens.Parse(token, now)
	if err != nil {
		return authPrincipal{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	active, err := g.store.SessionActive(ctx, claims.SessionID, claims.OwnerID, now)
	if err != nil {
		return authPrincipal{}, err
	}
	if !active {
		return authPrincipal{}, fmt.Errorf("%w: session revoked or owner disabled", ErrUnauthorized)
	}
	return authPrincipal{OwnerID: claims.OwnerID, SessionID: claims.SessionID}, nil
}

// tokenFromRequest reads a bearer token, falling back to the session cookie.
func tokenFromRequest(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// withAuth rejects requests without a valid token and stores the
// principal for handlers.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.guard.authenticate(r.Context(), tokenFromRequest(r))
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				s.writeErrorReq(w, r, http.StatusUnauthorized, unauthorized(err))
				return
			}
			s.writeStoreError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithAuthPrincipal(r.Context(), principal)))
	})
}

// withAdmin requires the configured admin token. With no admin token
// configured, admin routes are disabled.
func (s *Server) withAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			s.writeErrorReq(w, r, http.StatusForbidden, forbidden(fmt.Errorf("admin token is not configured")))
			return
		}
		if !constantTimeEqual(r.Header.Get(adminTokenHeader), s.adminToken) {
			s.writeErrorReq(w, r, http.StatusForbidden, forbidden(fmt.Errorf("admin token required")))
			return
		}
		next.ServeHTTP(w, r)
	})
}
