package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"filevault/internal/blobstore"
	"filevault/internal/metrics"
	"filevault/internal/models"
	"filevault/internal/store"
)

const (
	sniffLen            = 512
	compensationTimeout = 30 * time.Second
)

// blobPutter is the slice of BlobStore the upload path drives.
type blobPutter interface {
	Put(ctx context.Context, ownerID int64, r io.Reader, expectedSize int64) (blobstore.PutResult, error)
	Release(ctx context.Context, key string) (int64, error)
	MaybeReclaim(ctx context.Context, key string, remaining int64) error
	Unpin(key string)
}

// UploadInput describes one upload. Size is the declared byte count, or
// a negative value when unknown.
type UploadInput struct {
	Filename  string
	Path      string
	MediaType string
	Size      int64
}

type UploadResult struct {
	Record       models.FileRecord
	Deduplicated bool
}

// UploadCoordinator stores bytes first and metadata second. When the
// metadata commit fails it releases the blob reference it took, so a failed
// upload leaves no record and no extra reference behind.
type UploadCoordinator struct {
	blobs   blobPutter
	index   store.FileIndex
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewUploadCoordinator(blobs blobPutter, index store.FileIndex, logger *slog.Logger, m *metrics.Metrics) *UploadCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadCoordinator{
		blobs:   blobs,
		index:   index,
		logger:  logger.With("component", "upload"),
		metrics: m,
	}
}

// Upload stores r for ownerID and records it under in.Filename.
func (c *UploadCoordinator) Upload(ctx context.Context, ownerID int64, in UploadInput, r io.Reader) (UploadResult, error) {
	var zero UploadResult

	filename, err := sanitizeFilename(in.Filename)
	if err != nil {
		return zero, err
	}
	folder, err := sanitizePath(in.Path)
	if err != nil {
		return zero, err
	}
	declared, err := normalizeMediaType(in.MediaType)
	if err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	buffered := bufio.NewReader(r)
	peek, _ := buffered.Peek(sniffLen)
	mediaType := detectMediaType(declared, filename, peek)

	put, err := c.blobs.Put(ctx, ownerID, buffered, in.Size)
	if err != nil {
		c.metrics.UploadResult("failed")
		return zero, err
	}
	key := put.Blob.Key

	record := models.FileRecord{
		OwnerID:   ownerID,
		Filename:  filename,
		Path:      folder,
		SHA256:    put.Blob.SHA256,
		BlobKey:   key,
		SizeBytes: put.Blob.SizeBytes,
		MediaType: mediaType,
	}
	if _, err := c.index.CreateRecord(ctx, &record); err != nil {
		c.compensate(ctx, ownerID, key, err)
		c.metrics.UploadResult("failed")
		return zero, err
	}
	c.blobs.Unpin(key)

	if put.Deduplicated {
		c.metrics.UploadResult("deduplicated")
	} else {
		c.metrics.UploadResult("stored")
	}
	c.logger.Debug("upload recorded", "owner_id", ownerID, "file_id", record.ID, "sha256", record.SHA256, "size_bytes", record.SizeBytes, "deduplicated", put.Deduplicated)
	return UploadResult{Record: record, Deduplicated: put.Deduplicated}, nil
}

// compensate drops the reference Put took. The release happens while the key
// is still pinned so a concurrent sweep cannot repair the count in between;
// reclamation runs after the pin is gone. A failed release is left for
// reconciliation.
func (c *UploadCoordinator) compensate(ctx context.Context, ownerID int64, key string, cause error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	remaining, err := c.blobs.Release(cctx, key)
	c.blobs.Unpin(key)
	c.metrics.Compensation(err)
	if err != nil {
		c.logger.Error("upload compensation failed", "owner_id", ownerID, "key", key, "cause", cause, "error", err)
		return
	}
	c.logger.Warn("upload compensated", "owner_id", ownerID, "key", key, "cause", cause, "remaining_refs", remaining)
	if err := c.blobs.MaybeReclaim(cctx, key, remaining); err != nil {
		c.logger.Warn("reclaim after compensation failed", "key", key, "error", err)
	}
}

func normalizeMediaType(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", badRequest(fmt.Errorf("invalid media_type: %w", err))
	}
	return mime.FormatMediaType(mediaType, params), nil
}

// detectMediaType prefers the declared type, then the filename extension,
// then content sniffing.
func detectMediaType(declared, filename string, peek []byte) string {
	if declared != "" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(filename))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(peek)
}
