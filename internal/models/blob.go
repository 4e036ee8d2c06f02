package models

import (
	"fmt"
	"strings"
	"time"
)

// BlobCompression records how blob bytes are encoded on disk.
type BlobCompression string

const (
	CompressionNone BlobCompression = "none"
	CompressionZstd BlobCompression = "zstd"
)

// Blob is an immutable stored content object referenced by file records.
// OwnerScope is 0 when the blob is shared across owners.
type Blob struct {
	Key         string    `json:"key"`
	SHA256      string    `json:"sha256"`
	OwnerScope  int64     `json:"owner_scope"`
	SizeBytes   int64     `json:"size_bytes"`
	Compression string    `json:"compression"`
	RefCount    int64     `json:"ref_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func ParseBlobCompression(raw string) (BlobCompression, error) {
	value := BlobCompression(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionZstd:
		return value, nil
	default:
		return "", fmt.Errorf("invalid blob compression: %s", value)
	}
}

// BlobRefMismatch pairs a blob's stored reference count with the number of
// file records that actually point at it.
type BlobRefMismatch struct {
	Key      string `json:"key"`
	RefCount int64  `json:"ref_count"`
	Actual   int64  `json:"actual"`
}
