package blobstore

import (
	"context"

	"filevault/internal/models"
)

// RefIndex is the transactional reference table behind BlobStore.
// Every method is a single transaction in the backing store.
type RefIndex interface {
	// GetBlob returns nil, nil when no row exists for key.
	GetBlob(ctx context.Context, key string) (*models.Blob, error)
	// AcquireBlob increments the reference count, creating the row at 1 when
	// absent. With replaced set, an existing row takes blob's size and
	// compression because the bytes on disk were just rewritten.
	AcquireBlob(ctx context.Context, blob models.Blob, replaced bool) (models.Blob, error)
	// ReleaseBlob decrements the reference count and returns what remains.
	ReleaseBlob(ctx context.Context, key string) (int64, error)
	// DeleteBlobIfUnreferenced deletes the row only when its count is zero.
	DeleteBlobIfUnreferenced(ctx context.Context, key string) (*models.Blob, error)
	ListReclaimableBlobs(ctx context.Context, afterKey string, limit int) ([]models.Blob, error)
	ListBlobRefMismatches(ctx context.Context, afterKey string, limit int) ([]models.BlobRefMismatch, error)
	// RepairBlobRefCount resets the count to the number of referencing file
	// records, provided the count still equals expected.
	RepairBlobRefCount(ctx context.Context, key string, expected int64) (bool, error)
}

// PutResult describes one stored or deduplicated upload.
type PutResult struct {
	Blob         models.Blob
	Created      bool
	Deduplicated bool
}
