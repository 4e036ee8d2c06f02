package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	authed := func(fn http.HandlerFunc) http.Handler { return s.withAuth(fn) }

	// Health, metrics, and info.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("GET /v1/info", authed(s.handleInfo))

	// Accounts and tokens.
	mux.HandleFunc("POST /v1/auth/register", s.handleAuthRegister)
	mux.HandleFunc("POST /v1/auth/login", s.handleAuthLogin)
	mux.HandleFunc("POST /v1/auth/logout", s.handleAuthLogout)
	mux.Handle("GET /v1/auth/me", authed(s.handleAuthMe))

	// Files collection.
	mux.Handle("GET /v1/files", authed(s.handleListFiles))
	mux.Handle("POST /v1/files", authed(s.handleUploadFile))

	// Single file.
	mux.Handle("GET /v1/files/{id}", authed(s.handleGetFile))
	mux.Handle("GET /v1/files/{id}/content", authed(s.handleFileContent))
	mux.Handle("PATCH /v1/files/{id}", authed(s.handleUpdateFile))
	mux.Handle("DELETE /v1/files/{id}", authed(s.handleDeleteFile))

	// Content-addressed reads.
	mux.Handle("GET /v1/blobs/{digest}", authed(s.handleGetBlob))

	// Admin.
	mux.Handle("POST /v1/admin/reconcile", s.withAdmin(http.HandlerFunc(s.handleAdminReconcile)))

	return s.withRequestLogging(mux)
}
