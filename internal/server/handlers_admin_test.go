package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"filevault/internal/api"
	"filevault/internal/blobstore"
)

func (e *testEnv) reconcile(t *testing.T, req api.ReconcileRequest, adminToken string, confirm bool) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal reconcile request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/v1/admin/reconcile", bytes.NewReader(raw))
	httpReq.Header.Set("Content-Type", "application/json")
	if adminToken != "" {
		httpReq.Header.Set(adminTokenHeader, adminToken)
	}
	if confirm {
		httpReq.Header.Set(confirmHeader, "true")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, httpReq)
	return w
}

// Simulates a crash between storing bytes and recording metadata: the blob
// holds a reference that no file accounts for.
func TestReconcileRepairsCountsAfterCrash(t *testing.T) {
	env := newTestEnv(t, blobstore.Options{})
	token, ownerID := env.user(t, "alice")
	kept := env.mustUpload(t, token, "kept.txt", []byte("kept"))

	put, err := env.blobs.Put(context.Background(), ownerID, strings.NewReader("lost"), 4)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	env.blobs.Unpin(put.Blob.Key)
	if got := env.countBlobFiles(t); got != 2 {
		t.Fatalf("expected 2 blob files before reconcile, got %d", got)
	}

	w := env.reconcile(t, api.ReconcileRequest{DryRun: true}, testAdminToken, false)
	if w.Code != http.StatusOK {
		t.Fatalf("dry run: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	dry := decodeJSONBody[api.ReconcileResponse](t, w)
	if !dry.DryRun || dry.RepairedRows != 1 || dry.ReclaimCandidates != 1 || dry.ReclaimedBlobs != 0 {
		t.Fatalf("unexpected dry run result: %#v", dry)
	}
	if got := env.countBlobFiles(t); got != 2 {
		t.Fatalf("dry run must not remove files, got %d", got)
	}

	w = env.reconcile(t, api.ReconcileRequest{}, testAdminToken, false)
	requireErrorCode(t, w, http.StatusBadRequest, ErrCodeMissingRequired)

	w = env.reconcile(t, api.ReconcileRequest{}, testAdminToken, true)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	result := decodeJSONBody[api.ReconcileResponse](t, w)
	if result.RepairedRows != 1 || result.ReclaimedBlobs != 1 || result.ReclaimedBytes != 4 || result.Failed != 0 {
		t.Fatalf("unexpected reconcile result: %#v", result)
	}
	if got := env.countBlobFiles(t); got != 1 {
		t.Fatalf("expected only the referenced blob to remain, got %d files", got)
	}

	w = env.do(t, http.MethodGet, fmt.Sprintf("/v1/files/%d/content", kept.ID), token, nil)
	if w.Code != http.StatusOK || w.Body.String() != "kept" {
		t.Fatalf("referenced file must survive reconcile, got %d %q", w.Code, w.Body.String())
	}

	w = env.reconcile(t, api.ReconcileRequest{}, testAdminToken, true)
	again := decodeJSONBody[api.ReconcileResponse](t, w)
	if again.RepairedRows != 0 || again.ReclaimedBlobs != 0 || again.OrphanFiles != 0 {
		t.Fatalf("second sweep should find nothing, got %#v", again)
	}
}

func TestReconcileSkipsPinnedUpload(t *testing.T) {
	env := newTestEnv(t, blobstore.Options{})
	_, ownerID := env.user(t, "alice")

	put, err := env.blobs.Put(context.Background(), ownerID, strings.NewReader("in flight"), -1)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	w := env.reconcile(t, api.ReconcileRequest{}, testAdminToken, true)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if result := decodeJSONBody[api.ReconcileResponse](t, w); result.RepairedRows != 0 || result.ReclaimedBlobs != 0 {
		t.Fatalf("pinned key must be left alone, got %#v", result)
	}
	if got := env.countBlobFiles(t); got != 1 {
		t.Fatalf("pinned blob bytes must remain, got %d files", got)
	}
	env.blobs.Unpin(put.Blob.Key)
}

func TestReconcileRequiresAdminToken(t *testing.T) {
	env := newTestEnv(t, blobstore.Options{})
	token, _ := env.user(t, "alice")

	w := env.reconcile(t, api.ReconcileRequest{DryRun: true}, "", false)
	requireErrorCode(t, w, http.StatusForbidden, ErrCodeForbidden)

	w = env.reconcile(t, api.ReconcileRequest{DryRun: true}, token, false)
	requireErrorCode(t, w, http.StatusForbidden, ErrCodeForbidden)

	w = env.reconcile(t, api.ReconcileRequest{DryRun: true, BatchSize: -1}, testAdminToken, false)
	requireErrorCode(t, w, http.StatusBadRequest, ErrCodeInvalidArgument)
}

func TestScheduledReconcileReclaimsCrashOrphan(t *testing.T) {
	env := newTestEnv(t, blobstore.Options{})
	_, ownerID := env.user(t, "alice")

	put, err := env.blobs.Put(context.Background(), ownerID, strings.NewReader("lost"), 4)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	env.blobs.Unpin(put.Blob.Key)

	// A sweep already holding the slot makes the tick a no-op.
	env.srv.reconcileLimiter <- struct{}{}
	env.srv.reconcileOnce(context.Background())
	if got := env.countBlobFiles(t); got != 1 {
		t.Fatalf("tick must skip while another sweep runs, got %d files", got)
	}
	<-env.srv.reconcileLimiter

	env.srv.reconcileOnce(context.Background())
	if got := env.countBlobFiles(t); got != 0 {
		t.Fatalf("expected orphan reclaimed by scheduled sweep, got %d files", got)
	}
}
