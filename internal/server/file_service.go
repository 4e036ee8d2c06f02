package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"filevault/internal/blobstore"
	"filevault/internal/models"
	"filevault/internal/store"
)

// FileService serves reads and mutations of existing file records.
type FileService struct {
	index  store.FileIndex
	blobs  *blobstore.BlobStore
	logger *slog.Logger
}

func NewFileService(index store.FileIndex, blobs *blobstore.BlobStore, logger *slog.Logger) *FileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileService{index: index, blobs: blobs, logger: logger.With("component", "files")}
}

func (f *FileService) List(ctx context.Context, ownerID int64, opts store.ListOptions) ([]models.FileRecord, error) {
	records, err := f.index.ListByOwner(ctx, ownerID, opts)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.FileRecord{}
	}
	return records, nil
}

func (f *FileService) Get(ctx context.Context, ownerID, id int64) (*models.FileRecord, error) {
	return f.index.GetRecord(ctx, id, ownerID)
}

// Open returns the record and a reader over its bytes.
func (f *FileService) Open(ctx context.Context, ownerID, id int64) (*models.FileRecord, io.ReadCloser, error) {
	record, err := f.index.GetRecord(ctx, id, ownerID)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := f.blobs.Get(ctx, record.BlobKey)
	if err != nil {
		return nil, nil, err
	}
	return record, rc, nil
}

// HoldsDigest reports whether ownerID has a record with these bytes.
func (f *FileService) HoldsDigest(ctx context.Context, ownerID int64, digest string) (bool, error) {
	record, err := f.index.FindRecordByDigest(ctx, ownerID, digest)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

// OpenByDigest opens bytes the owner holds a record for. Digests of other
// owners' files are reported as missing.
func (f *FileService) OpenByDigest(ctx context.Context, ownerID int64, digest string) (*models.FileRecord, io.ReadCloser, error) {
	record, err := f.index.FindRecordByDigest(ctx, ownerID, digest)
	if err != nil {
		return nil, nil, err
	}
	if record == nil {
		return nil, nil, fmt.Errorf("digest %s: %w", digest, blobstore.ErrNotFound)
	}
	rc, _, err := f.blobs.Get(ctx, record.BlobKey)
	if err != nil {
		return nil, nil, err
	}
	return record, rc, nil
}

// Update renames and/or moves a record. Nil fields are left alone.
func (f *FileService) Update(ctx context.Context, ownerID, id int64, filename, folder *string) (*models.FileRecord, error) {
	if filename == nil && folder == nil {
		return nil, badRequestCode(fmt.Errorf("filename or path is required"), ErrCodeMissingRequired)
	}

	var update store.RecordUpdate
	if filename != nil {
		name, err := sanitizeFilename(*filename)
		if err != nil {
			return nil, err
		}
		update.Filename = &name
	}
	if folder != nil {
		folderPath, err := sanitizePath(*folder)
		if err != nil {
			return nil, err
		}
		update.Path = &folderPath
	}
	return f.index.UpdateRecord(ctx, id, ownerID, update)
}

// Delete removes a record and reports whether its blob was reclaimed.
// A failed reclaim is logged and left for reconciliation.
func (f *FileService) Delete(ctx context.Context, ownerID, id int64) (bool, error) {
	record, remaining, err := f.index.DeleteRecord(ctx, id, ownerID)
	if err != nil {
		return false, err
	}
	if remaining > 0 || f.blobs.ReclaimMode() != blobstore.ReclaimImmediate {
		return false, nil
	}
	reclaimed, err := f.blobs.Reclaim(ctx, record.BlobKey)
	if err != nil {
		f.logger.Warn("reclaim after delete failed", "key", record.BlobKey, "error", err)
	}
	return reclaimed, nil
}

func (f *FileService) Usage(ctx context.Context, ownerID int64) (store.OwnerUsage, error) {
	return f.index.OwnerUsage(ctx, ownerID)
}

func folderFilter(raw string, present bool) (*string, error) {
	if !present {
		return nil, nil
	}
	cleaned, err := sanitizePath(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	return &cleaned, nil
}
