package server

import (
	"fmt"
	"net/http"

	"filevault/internal/api"
)

func (s *Server) handleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	var req api.ReconcileRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}
	if req.BatchSize < 0 {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("batch_size must be >= 0"), ErrCodeInvalidArgument))
		return
	}
	if !req.DryRun && r.Header.Get(confirmHeader) != "true" {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("non-dry-run requires %s: true header", confirmHeader), ErrCodeMissingRequired))
		return
	}

	s.withLimiter(w, r, s.reconcileLimiter, "reconcile", func() {
		result, err := s.blobs.Reconcile(r.Context(), s.reconcileOptions(req.DryRun, req.BatchSize))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, api.ReconcileResponse{
			DryRun:            result.DryRun,
			RepairedRows:      result.RepairedRows,
			ReclaimCandidates: result.ReclaimCandidates,
			ReclaimedBlobs:    result.ReclaimedBlobs,
			ReclaimedBytes:    result.ReclaimedBytes,
			OrphanFiles:       result.OrphanFiles,
			TempFiles:         result.TempFiles,
			Failed:            result.Failed,
		})
	})
}
