package server

import (
	"net/http"
	"strconv"
	"strings"
)

const immutableCacheControl = "public, max-age=31536000, immutable"

// handleGetBlob serves bytes by digest. Content never changes for a digest,
// so responses are cacheable forever and revalidate by ETag.
func (s *Server) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerOrUnauthorized(w, r)
	if !ok {
		return
	}
	digest, err := normalizeDigest(r.PathValue("digest"))
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}

	etag := strconv.Quote(digest)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		// Revalidation still requires the caller to hold the digest.
		held, err := s.files.HoldsDigest(r.Context(), ownerID, digest)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if held {
			w.Header().Set("ETag", etag)
			w.Header().Set("Cache-Control", immutableCacheControl)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	record, rc, err := s.files.OpenByDigest(r.Context(), ownerID, digest)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	setContentHeaders(w, record)
	w.Header().Set("Cache-Control", immutableCacheControl)
	s.copyContent(w, r, rc, record)
}

func etagMatches(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}
