package server

import (
	"net/http"

	"filevault/internal/api"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.StoreInfo(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	resp := api.InfoResponse{
		SchemaVersion:     info.SchemaVersion,
		Users:             int(info.Users),
		Files:             int(info.Files),
		Blobs:             int(info.Blobs),
		UnreferencedBlobs: int(info.UnreferencedBlobs),
		LogicalBytes:      info.LogicalBytes,
		StoredBytes:       info.StoredBytes,
		DedupeScope:       string(s.blobs.DedupeScope()),
		Reclaim:           string(s.blobs.ReclaimMode()),
		Compression:       string(s.blobs.Compression()),
	}
	if info.StoredBytes > 0 {
		resp.DedupeRatio = float64(info.LogicalBytes) / float64(info.StoredBytes)
	}

	s.writeJSON(w, http.StatusOK, resp)
}
