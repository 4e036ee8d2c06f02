package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"syscall"

	"filevault/internal/api"
	"filevault/internal/blobstore"
	"filevault/internal/models"
	"filevault/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerOrUnauthorized(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	sort, desc, err := normalizeSort(query.Get("sort"), query.Get("order"))
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}
	limit, err := queryIntDefault(r, "limit", defaultListLimit)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}
	folder, err := folderFilter(query.Get("path"), query.Has("path"))
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}

	records, err := s.files.List(r.Context(), ownerID, store.ListOptions{
		Sort:   sort,
		Desc:   desc,
		Path:   folder,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	resp := make([]api.FileResponse, 0, len(records))
	for _, record := range records {
		resp = append(resp, toAPIFile(record))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerOrUnauthorized(w, r)
	if !ok {
		return
	}
	s.withLimiter(w, r, s.uploadLimiter, "upload", func() {
		s.upload(w, r, ownerID)
	})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request, ownerID int64) {
	expectedSize, err := expectedUploadSize(r)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, err)
		return
	}
	if expectedSize > s.maxUploadBytes {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("upload exceeds %d bytes", s.maxUploadBytes), ErrCodeRequestTooLarge))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.multipartMaxMemory); err != nil {
		err = classifyMultipartError(err)
		s.writeErrorReq(w, r, httpStatusFromError(err), err)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("file is required"), ErrCodeMissingRequired))
		return
	}
	defer file.Close()
	if header.Size > s.maxUploadBytes {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(fmt.Errorf("upload exceeds %d bytes", s.maxUploadBytes), ErrCodeRequestTooLarge))
		return
	}

	result, err := s.uploads.Upload(r.Context(), ownerID, UploadInput{
		Filename:  firstNonEmpty(r.FormValue("filename"), header.Filename),
		Path:      r.FormValue("path"),
		MediaType: r.FormValue("media_type"),
		Size:      expectedSize,
	}, file)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := toAPIFile(result.Record)
	resp.Deduplicated = result.Deduplicated
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerOrUnauthorized(w, r)
	if !ok {
		return
	}
	id, ok := s.pathIDOrBadRequest(w, r)
	if !ok {
		return
	}

	record, err := s.files.Get(r.Context(), ownerID, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toAPIFile(*record))
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerOrUnauthorized(w, r)
	if !ok {
		return
	}
	id, ok := s.pathIDOrBadRequest(w, r)
	if !ok {
		return
	}

	record, rc, err := s.files.Open(r.Context(), ownerID, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer rc.Close()

	setContentHeaders(w, record)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": record.Filename}))
	w.Header().Set("Cache-Control", "private, no-cache")
	s.copyContent(w, r, rc, record)
}

func (s *Server) handleUpdateFile(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerOrUnauthorized(w, r)
	if !ok {
		return
	}
	id, ok := s.pathIDOrBadRequest(w, r)
	if !ok {
		return
	}

	var req api.FileUpdateRequest
	if !s.decodeJSONReq(w, r, &req) {
		return
	}

	record, err := s.files.Update(r.Context(), ownerID, id, req.Filename, req.Path)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toAPIFile(*record))
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerOrUnauthorized(w, r)
	if !ok {
		return
	}
	id, ok := s.pathIDOrBadRequest(w, r)
	if !ok {
		return
	}

	reclaimed, err := s.files.Delete(r.Context(), ownerID, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FileDeleteResponse{ID: id, Reclaimed: reclaimed})
}

func (s *Server) ownerOrUnauthorized(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ownerID, ok := ownerFromRequest(r)
	if !ok {
		s.writeErrorReq(w, r, http.StatusUnauthorized, unauthorized(ErrUnauthorized))
		return 0, false
	}
	return ownerID, true
}

// copyContent streams blob bytes after headers are set. A failure mid-stream
// can only be logged.
func (s *Server) copyContent(w http.ResponseWriter, r *http.Request, rc io.Reader, record *models.FileRecord) {
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		s.log().Warn("stream file content", "file_id", record.ID, "sha256", record.SHA256, "error", err)
	}
}

func setContentHeaders(w http.ResponseWriter, record *models.FileRecord) {
	mediaType := record.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.FormatInt(record.SizeBytes, 10))
	w.Header().Set("ETag", strconv.Quote(record.SHA256))
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

func expectedUploadSize(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(contentLengthHeader))
	if raw == "" {
		return -1, nil
	}
	size, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || size < 0 {
		return 0, badRequestCode(fmt.Errorf("invalid %s header", contentLengthHeader), ErrCodeInvalidArgument)
	}
	return size, nil
}

func classifyMultipartError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		return badRequestCode(fmt.Errorf("request body too large"), ErrCodeRequestTooLarge)
	}
	// Spooling a large part to a temp file can run out of disk.
	if errors.Is(err, syscall.ENOSPC) {
		return makeAPIError(http.StatusInsufficientStorage, "storage_full", ErrCodeStorageFull, fmt.Errorf("spool upload: %w: %w", blobstore.ErrStorageFull, err))
	}
	return badRequestCode(err, ErrCodeInvalidArgument)
}

func toAPIFile(record models.FileRecord) api.FileResponse {
	return api.FileResponse{
		ID:        record.ID,
		Filename:  record.Filename,
		Path:      record.Path,
		SHA256:    record.SHA256,
		SizeBytes: record.SizeBytes,
		MediaType: record.MediaType,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}
