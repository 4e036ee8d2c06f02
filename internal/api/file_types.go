package api

import "time"

// FileResponse is the public view of one stored file.
type FileResponse struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	Path         string    `json:"path"`
	SHA256       string    `json:"sha256"`
	SizeBytes    int64     `json:"size_bytes"`
	MediaType    string    `json:"media_type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Deduplicated bool      `json:"deduplicated,omitempty"`
}

// FileUpdateRequest renames and/or moves a file. Nil fields are left alone.
type FileUpdateRequest struct {
	Filename *string `json:"filename,omitempty"`
	Path     *string `json:"path,omitempty"`
}

// FileDeleteResponse reports a removed file.
type FileDeleteResponse struct {
	ID        int64 `json:"id"`
	Reclaimed bool  `json:"reclaimed"`
}

// UploadRequest describes the multipart fields sent with file bytes.
type UploadRequest struct {
	Filename  string
	Path      string
	MediaType string
	// Size is sent as X-Content-Length when non-negative.
	Size int64
}
