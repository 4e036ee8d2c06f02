package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"filevault/internal/auth"
	"filevault/internal/blobstore"
	"filevault/internal/metrics"
	"filevault/internal/store"
)

const (
	allowRemoteEnvKey         = "FILEVAULT_ALLOW_REMOTE"
	adminTokenHeader          = "X-Admin-Token"
	confirmHeader             = "X-Confirm"
	contentLengthHeader       = "X-Content-Length"
	readHeaderTimeout         = 5 * time.Second
	idleTimeout               = 60 * time.Second
	shutdownTimeout           = 15 * time.Second
	uploadConcurrencyLimit    = 8
	reconcileConcurrencyLimit = 1
	loginMaxFailures          = 5
	loginFailureWindow        = 10 * time.Minute
	loginBlockDuration        = 15 * time.Minute

	defaultMaxUploadBytes     = 512 << 20 // 512 MiB
	defaultMultipartMaxMemory = 8 << 20   // 8 MiB
	// multipartOverhead covers boundaries and form fields around the file part.
	multipartOverhead = 1 << 20
)

// Config wires a Server. Store, Blobs, and Tokens are required.
type Config struct {
	Addr               string
	Store              store.Backend
	Blobs              *blobstore.BlobStore
	Tokens             *auth.TokenIssuer
	Logger             *slog.Logger
	Metrics            *metrics.Metrics
	AdminToken         string
	MaxUploadBytes     int64
	MultipartMaxMemory int64

	// GCInterval of zero disables the background reconciliation loop.
	GCInterval  time.Duration
	GCBatchSize int
	TempGrace   time.Duration
}

// Server wraps HTTP handlers for the filevault API.
type Server struct {
	addr               string
	store              store.Backend
	blobs              *blobstore.BlobStore
	uploads            *UploadCoordinator
	files              *FileService
	authService        *AuthService
	guard              *AccessGuard
	logger             *slog.Logger
	metrics            *metrics.Metrics
	adminToken         string
	maxUploadBytes     int64
	multipartMaxMemory int64
	gcInterval         time.Duration
	gcBatchSize        int
	tempGrace          time.Duration
	uploadLimiter      chan struct{}
	reconcileLimiter   chan struct{}
	loginLimiter       *loginRateLimiter
}

// New creates a new server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.MultipartMaxMemory <= 0 {
		cfg.MultipartMaxMemory = defaultMultipartMaxMemory
	}

	return &Server{
		addr:               cfg.Addr,
		store:              cfg.Store,
		blobs:              cfg.Blobs,
		uploads:            NewUploadCoordinator(cfg.Blobs, cfg.Store, logger, cfg.Metrics),
		files:              NewFileService(cfg.Store, cfg.Blobs, logger),
		authService:        NewAuthService(cfg.Store, cfg.Tokens),
		guard:              NewAccessGuard(cfg.Tokens, cfg.Store),
		logger:             logger,
		metrics:            cfg.Metrics,
		adminToken:         strings.TrimSpace(cfg.AdminToken),
		maxUploadBytes:     cfg.MaxUploadBytes,
		multipartMaxMemory: cfg.MultipartMaxMemory,
		gcInterval:         cfg.GCInterval,
		gcBatchSize:        cfg.GCBatchSize,
		tempGrace:          cfg.TempGrace,
		uploadLimiter:      make(chan struct{}, uploadConcurrencyLimit),
		reconcileLimiter:   make(chan struct{}, reconcileConcurrencyLimit),
		loginLimiter:       newLoginRateLimiter(loginMaxFailures, loginFailureWindow, loginBlockDuration),
	}, nil
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// The reconciliation loop runs alongside when enabled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.log().Info("starting server", "addr", s.addr, "dedupe_scope", s.blobs.DedupeScope(), "reclaim", s.blobs.ReclaimMode())
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	if s.gcInterval > 0 {
		go s.runReconcileLoop(loopCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) runReconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce runs one scheduled sweep unless an admin sweep is running.
func (s *Server) reconcileOnce(ctx context.Context) {
	select {
	case s.reconcileLimiter <- struct{}{}:
	default:
		s.log().Debug("reconcile already running, skipping tick")
		return
	}
	defer s.releaseLimiter(s.reconcileLimiter)

	if _, err := s.blobs.Reconcile(ctx, s.reconcileOptions(false, 0)); err != nil {
		s.log().Error("scheduled reconcile failed", "error", err)
	}
	purged, err := s.store.PurgeExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		s.log().Error("purge expired sessions failed", "error", err)
		return
	}
	if purged > 0 {
		s.log().Debug("expired sessions purged", "count", purged)
	}
}

func (s *Server) reconcileOptions(dryRun bool, batchSize int) blobstore.ReconcileOptions {
	if batchSize <= 0 {
		batchSize = s.gcBatchSize
	}
	return blobstore.ReconcileOptions{DryRun: dryRun, BatchSize: batchSize, TempGrace: s.tempGrace}
}

// ListenAddr converts a base API URL into a listen address.
func ListenAddr(apiURL string) (string, error) {
	if apiURL == "" {
		return "", fmt.Errorf("api url is required")
	}
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(apiURL)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return apiURL, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) acquireLimiter(limiter chan struct{}, w http.ResponseWriter, r *http.Request, name string) bool {
	if limiter == nil {
		return true
	}
	select {
	case limiter <- struct{}{}:
		return true
	default:
		err := apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("too many concurrent %s requests", name),
		}
		s.writeErrorReq(w, r, http.StatusTooManyRequests, err)
		return false
	}
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func (s *Server) releaseLimiter(limiter chan struct{}) {
	if limiter == nil {
		return
	}
	select {
	case <-limiter:
	default:
	}
}
