package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"filevault/internal/api"
	"filevault/internal/auth"
	"filevault/internal/blobstore"
	"filevault/internal/metrics"
	"filevault/internal/store"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	testTokenSecret  = "test-secret-0123456789abcdef0123456789"
	testAdminToken   = "admin-token"
	testUserPassword = "password-123"
)

type testEnv struct {
	srv     *Server
	store   *store.Store
	cas     *blobstore.LocalCAS
	blobs   *blobstore.BlobStore
	tokens  *auth.TokenIssuer
	handler http.Handler
}

func newTestEnv(t *testing.T, opts blobstore.Options) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "filevault-test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})

	cas, err := blobstore.NewLocalCAS(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Logger == nil {
		opts.Logger = logger
	}
	m, err := metrics.NewWithRegistry(prometheus.NewRegistry(), false)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	if opts.Metrics == nil {
		opts.Metrics = m
	}
	blobs := blobstore.New(cas, st, opts)

	tokens, err := auth.NewTokenIssuer([]byte(testTokenSecret), time.Hour)
	if err != nil {
		t.Fatalf("new token issuer: %v", err)
	}

	srv, err := New(Config{
		Addr:       "127.0.0.1:0",
		Store:      st,
		Blobs:      blobs,
		Tokens:     tokens,
		Logger:     logger,
		Metrics:    opts.Metrics,
		AdminToken: testAdminToken,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	return &testEnv{srv: srv, store: st, cas: cas, blobs: blobs, tokens: tokens, handler: srv.routes()}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return e.do(t, method, path, token, bytes.NewReader(raw))
}

// user registers username and returns a fresh token and its owner id.
func (e *testEnv) user(t *testing.T, username string) (string, int64) {
	t.Helper()
	w := e.doJSON(t, http.MethodPost, "/v1/auth/register", "", api.AuthCredentials{Username: username, Password: testUserPassword})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d (%s)", username, w.Code, w.Body.String())
	}
	return e.login(t, username), decodeJSONBody[api.AuthUser](t, w).ID
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	w := e.doJSON(t, http.MethodPost, "/v1/auth/login", "", api.AuthCredentials{Username: username, Password: testUserPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (%s)", username, w.Code, w.Body.String())
	}
	return decodeJSONBody[api.AuthLoginResponse](t, w).Token
}

func (e *testEnv) upload(t *testing.T, token, filename, folder string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	return e.uploadWithSize(t, token, filename, folder, content, int64(len(content)))
}

func (e *testEnv) uploadWithSize(t *testing.T, token, filename, folder string, content []byte, size int64) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if folder != "" {
		if err := mw.WriteField("path", folder); err != nil {
			t.Fatalf("write path field: %v", err)
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	if size >= 0 {
		req.Header.Set(contentLengthHeader, strconv.FormatInt(size, 10))
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) mustUpload(t *testing.T, token, filename string, content []byte) api.FileResponse {
	t.Helper()
	w := e.upload(t, token, filename, "", content)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload %s: expected 201, got %d (%s)", filename, w.Code, w.Body.String())
	}
	return decodeJSONBody[api.FileResponse](t, w)
}

func (e *testEnv) countBlobFiles(t *testing.T) int {
	t.Helper()
	count := 0
	err := e.cas.Walk(t.Context(), func(string) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("walk blobs: %v", err)
	}
	return count
}

func decodeJSONBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func requireErrorCode(t *testing.T, w *httptest.ResponseRecorder, status, errorCode int) api.ErrorResponse {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, w.Code, w.Body.String())
	}
	resp := decodeJSONBody[api.ErrorResponse](t, w)
	if resp.ErrorCode != errorCode {
		t.Fatalf("expected error_code %d, got %d (%s)", errorCode, resp.ErrorCode, w.Body.String())
	}
	return resp
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (e *testEnv) blobKey(t *testing.T, ownerID int64, digest string) string {
	t.Helper()
	key, err := e.blobs.KeyFor(ownerID, digest)
	if err != nil {
		t.Fatalf("blob key: %v", err)
	}
	return key
}
