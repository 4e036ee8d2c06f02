package api

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// InfoResponse is the response from GET /v1/info.
type InfoResponse struct {
	SchemaVersion     int     `json:"schema_version"`
	Users             int     `json:"users"`
	Files             int     `json:"files"`
	Blobs             int     `json:"blobs"`
	UnreferencedBlobs int     `json:"unreferenced_blobs"`
	LogicalBytes      int64   `json:"logical_bytes"`
	StoredBytes       int64   `json:"stored_bytes"`
	DedupeRatio       float64 `json:"dedupe_ratio"`
	DedupeScope       string  `json:"dedupe_scope"`
	Reclaim           string  `json:"reclaim"`
	Compression       string  `json:"compression"`
}
