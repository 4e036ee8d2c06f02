package server

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"filevault/internal/api"
	internalauth "filevault/internal/auth"
	"filevault/internal/store"
)

func (s *Server) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	var req api.AuthCredentials
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	user, err := s.authService.Register(r.Context(), req.Username, req.Password, time.Now().UTC())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.log().Info("user registered", "user_id", user.ID, "username", user.Username)
	s.writeJSON(w, http.StatusCreated, toAPIUser(user))
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req api.AuthCredentials
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	now := time.Now().UTC()
	attempt := newLoginAttempt(req.Username, r)
	if wait := s.loginLimiter.Allow(attempt, now); wait > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		s.writeErrorReq(w, r, http.StatusTooManyRequests, apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("too many login attempts; retry later"),
		})
		return
	}

	result, err := s.authService.Login(r.Context(), req.Username, req.Password, now)
	if err != nil {
		if errors.Is(err, internalauth.ErrInvalidCredentials) {
			s.loginLimiter.Fail(attempt, now)
		}
		s.writeServiceError(w, r, err)
		return
	}
	s.loginLimiter.Reset(attempt)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    result.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(result.ExpiresAt.Sub(now) / time.Second),
		Expires:  result.ExpiresAt,
	})

	s.writeJSON(w, http.StatusOK, api.AuthLoginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		User:      toAPIUser(result.User),
	})
}

func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if token := tokenFromRequest(r); token != "" {
		if err := s.authService.Logout(r.Context(), token, time.Now().UTC()); err != nil {
			s.writeStoreError(w, r, err)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		s.writeErrorReq(w, r, http.StatusUnauthorized, unauthorized(ErrUnauthorized))
		return
	}

	user, err := s.authService.User(r.Context(), ownerID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	usage, err := s.files.Usage(r.Context(), ownerID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, api.AuthMeResponse{
		AuthUser:   toAPIUser(user),
		Files:      int(usage.Files),
		UsageBytes: usage.SizeBytes,
	})
}

func toAPIUser(user *store.AuthUser) api.AuthUser {
	if user == nil {
		return api.AuthUser{}
	}
	return api.AuthUser{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt}
}

func requestClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remote)
	if err == nil {
		return strings.TrimSpace(host)
	}
	return remote
}
