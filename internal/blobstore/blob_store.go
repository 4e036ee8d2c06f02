package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"filevault/internal/metrics"
	"filevault/internal/models"
)

// DedupeScope decides which uploads may share one stored blob.
type DedupeScope string

const (
	// DedupeGlobal shares identical bytes across all owners.
	DedupeGlobal DedupeScope = "global"
	// DedupeOwner only shares identical bytes within one owner.
	DedupeOwner DedupeScope = "owner"
)

func ParseDedupeScope(raw string) (DedupeScope, error) {
	switch DedupeScope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DedupeGlobal:
		return DedupeGlobal, nil
	case DedupeOwner:
		return DedupeOwner, nil
	default:
		return "", fmt.Errorf("invalid dedupe scope %q (expected global or owner)", raw)
	}
}

// ReclaimMode decides when an unreferenced blob is deleted.
type ReclaimMode string

const (
	ReclaimImmediate ReclaimMode = "immediate"
	ReclaimDeferred  ReclaimMode = "deferred"
)

func ParseReclaimMode(raw string) (ReclaimMode, error) {
	switch ReclaimMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ReclaimImmediate:
		return ReclaimImmediate, nil
	case ReclaimDeferred:
		return ReclaimDeferred, nil
	default:
		return "", fmt.Errorf("invalid reclaim mode %q (expected immediate or deferred)", raw)
	}
}

const (
	defaultReconcileBatchSize = 500
	defaultTempGrace          = time.Hour
)

type Options struct {
	DedupeScope DedupeScope
	Reclaim     ReclaimMode
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// BlobStore is reference-counted, content-addressed storage. Bytes live in a
// LocalCAS; counts live in a RefIndex. Per-key locks make publish+acquire and
// reclaim mutually exclusive for the same key.
type BlobStore struct {
	cas     *LocalCAS
	refs    RefIndex
	scope   DedupeScope
	reclaim ReclaimMode
	logger  *slog.Logger
	metrics *metrics.Metrics

	locks keyLocks
	pins  *pinSet
}

func New(cas *LocalCAS, refs RefIndex, opts Options) *BlobStore {
	if opts.DedupeScope == "" {
		opts.DedupeScope = DedupeGlobal
	}
	if opts.Reclaim == "" {
		opts.Reclaim = ReclaimImmediate
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobStore{
		cas:     cas,
		refs:    refs,
		scope:   opts.DedupeScope,
		reclaim: opts.Reclaim,
		logger:  logger.With("component", "blobstore"),
		metrics: opts.Metrics,
		pins:    newPinSet(),
	}
}

func (s *BlobStore) DedupeScope() DedupeScope { return s.scope }

func (s *BlobStore) ReclaimMode() ReclaimMode { return s.reclaim }

func (s *BlobStore) Compression() models.BlobCompression { return s.cas.Compression() }

// KeyFor returns the key identical bytes from ownerID would be stored under.
func (s *BlobStore) KeyFor(ownerID int64, digest string) (string, error) {
	if !ValidDigest(digest) {
		return "", fmt.Errorf("invalid sha256 digest %q", digest)
	}
	return BlobKey(s.scopeFor(ownerID), digest), nil
}

func (s *BlobStore) scopeFor(ownerID int64) int64 {
	if s.scope == DedupeOwner {
		return ownerID
	}
	return 0
}

// Put stores r and takes one reference on the resulting blob. When
// expectedSize is non-negative the stream must deliver exactly that many
// bytes. On success the key stays pinned until Unpin so reconciliation
// cannot undo the reference before the caller records it.
func (s *BlobStore) Put(ctx context.Context, ownerID int64, r io.Reader, expectedSize int64) (PutResult, error) {
	var zero PutResult
	if ownerID <= 0 {
		return zero, fmt.Errorf("owner id must be positive")
	}

	staged, err := s.cas.Stage(ctx, r)
	if err != nil {
		return zero, err
	}
	if expectedSize >= 0 && staged.SizeBytes != expectedSize {
		s.cas.Discard(staged)
		return zero, fmt.Errorf("%w: received %d of %d bytes", ErrTruncated, staged.SizeBytes, expectedSize)
	}
	if err := ctx.Err(); err != nil {
		s.cas.Discard(staged)
		return zero, fmt.Errorf("%w: %w", ErrTruncated, err)
	}

	scope := s.scopeFor(ownerID)
	key := BlobKey(scope, staged.SHA256)

	unlock := s.locks.lock(key)
	defer unlock()

	existing, err := s.refs.GetBlob(ctx, key)
	if err != nil {
		s.cas.Discard(staged)
		return zero, fmt.Errorf("lookup blob: %w", err)
	}
	onDisk, err := s.cas.Exists(key)
	if err != nil {
		s.cas.Discard(staged)
		return zero, err
	}

	replaced := false
	if existing != nil && onDisk {
		s.cas.Discard(staged)
	} else {
		if existing != nil {
			s.logger.Warn("blob row without bytes, rewriting", "key", key)
		}
		if err := s.cas.Publish(staged, key); err != nil {
			s.cas.Discard(staged)
			return zero, err
		}
		replaced = true
	}

	blob, err := s.refs.AcquireBlob(ctx, models.Blob{
		Key:         key,
		SHA256:      staged.SHA256,
		OwnerScope:  scope,
		SizeBytes:   staged.SizeBytes,
		Compression: string(staged.Compression),
	}, replaced)
	if err != nil {
		if replaced && existing == nil {
			if rmErr := s.cas.Remove(key); rmErr != nil {
				s.logger.Error("remove unreferenced blob after failed acquire", "key", key, "error", rmErr)
			}
		}
		return zero, fmt.Errorf("acquire blob: %w", err)
	}
	s.pins.pin(key)

	if replaced {
		s.metrics.BlobWritten(staged.SizeBytes)
	}
	s.logger.Debug("blob stored", "key", key, "size_bytes", blob.SizeBytes, "ref_count", blob.RefCount, "deduplicated", existing != nil)
	return PutResult{Blob: blob, Created: existing == nil, Deduplicated: existing != nil}, nil
}

// Unpin ends the in-flight window opened by Put.
func (s *BlobStore) Unpin(key string) {
	s.pins.unpin(key)
}

// Get opens the bytes of key. ErrNotFound covers both a missing row and
// missing bytes.
func (s *BlobStore) Get(ctx context.Context, key string) (io.ReadCloser, models.Blob, error) {
	blob, err := s.refs.GetBlob(ctx, key)
	if err != nil {
		return nil, models.Blob{}, fmt.Errorf("lookup blob: %w", err)
	}
	if blob == nil {
		return nil, models.Blob{}, fmt.Errorf("blob %q: %w", key, ErrNotFound)
	}
	rc, err := s.cas.Open(ctx, key, models.BlobCompression(blob.Compression))
	if err != nil {
		return nil, models.Blob{}, err
	}
	return rc, *blob, nil
}

// Stat returns the blob row for key or ErrNotFound.
func (s *BlobStore) Stat(ctx context.Context, key string) (models.Blob, error) {
	blob, err := s.refs.GetBlob(ctx, key)
	if err != nil {
		return models.Blob{}, fmt.Errorf("lookup blob: %w", err)
	}
	if blob == nil {
		return models.Blob{}, fmt.Errorf("blob %q: %w", key, ErrNotFound)
	}
	return *blob, nil
}

// Release drops one reference and returns the remaining count. With
// immediate reclamation a count of zero deletes the blob right away;
// otherwise it waits for Reconcile.
func (s *BlobStore) Release(ctx context.Context, key string) (int64, error) {
	unlock := s.locks.lock(key)
	remaining, err := s.refs.ReleaseBlob(ctx, key)
	unlock()
	if err != nil {
		return 0, fmt.Errorf("release blob: %w", err)
	}
	if err := s.MaybeReclaim(ctx, key, remaining); err != nil {
		s.logger.Warn("reclaim after release failed", "key", key, "error", err)
	}
	return remaining, nil
}

// MaybeReclaim reclaims key when remaining is zero and reclamation is immediate.
func (s *BlobStore) MaybeReclaim(ctx context.Context, key string, remaining int64) error {
	if remaining > 0 || s.reclaim != ReclaimImmediate {
		return nil
	}
	_, err := s.Reclaim(ctx, key)
	return err
}

// Reclaim deletes key's row and bytes if nothing references it and no
// upload holds it in flight. It reports whether the blob was deleted.
func (s *BlobStore) Reclaim(ctx context.Context, key string) (bool, error) {
	unlock := s.locks.lock(key)
	defer unlock()
	return s.reclaimLocked(ctx, key)
}

func (s *BlobStore) reclaimLocked(ctx context.Context, key string) (bool, error) {
	if s.pins.pinned(key) {
		return false, nil
	}
	blob, err := s.refs.DeleteBlobIfUnreferenced(ctx, key)
	if err != nil {
		return false, fmt.Errorf("delete blob row: %w", err)
	}
	if blob == nil {
		return false, nil
	}
	s.metrics.BlobReclaimed(blob.SizeBytes)
	s.logger.Debug("blob reclaimed", "key", key, "size_bytes", blob.SizeBytes)
	// A failed removal leaves an orphan file that Reconcile finds later.
	if err := s.cas.Remove(key); err != nil {
		return true, err
	}
	return true, nil
}

type ReconcileOptions struct {
	DryRun    bool
	BatchSize int
	TempGrace time.Duration
	Now       func() time.Time
}

type ReconcileResult struct {
	DryRun            bool  `json:"dry_run"`
	RepairedRows      int   `json:"repaired_rows"`
	ReclaimCandidates int   `json:"reclaim_candidates"`
	ReclaimedBlobs    int   `json:"reclaimed_blobs"`
	ReclaimedBytes    int64 `json:"reclaimed_bytes"`
	OrphanFiles       int   `json:"orphan_files"`
	TempFiles         int   `json:"temp_files"`
	Failed            int   `json:"failed"`
}

// Reconcile is the reconciliation sweep. It repairs reference counts left
// high by uploads that never recorded a file, reclaims blobs whose count is
// zero, removes blob files that have no row, and clears stale temp files.
// Keys pinned by an in-flight upload are skipped.
func (s *BlobStore) Reconcile(ctx context.Context, opts ReconcileOptions) (result ReconcileResult, err error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultReconcileBatchSize
	}
	if opts.TempGrace <= 0 {
		opts.TempGrace = defaultTempGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	result.DryRun = opts.DryRun
	defer func() { s.metrics.ReconcileRun(err) }()

	if err := s.repairRefCounts(ctx, opts, &result); err != nil {
		return result, err
	}
	if err := s.reclaimUnreferenced(ctx, opts, &result); err != nil {
		return result, err
	}
	if err := s.removeOrphanFiles(ctx, opts, &result); err != nil {
		return result, err
	}

	swept, err := s.cas.SweepTemp(opts.Now().Add(-opts.TempGrace), opts.DryRun)
	result.TempFiles = swept
	if err != nil {
		return result, err
	}

	s.logger.Info("reconcile finished",
		"dry_run", result.DryRun,
		"repaired_rows", result.RepairedRows,
		"reclaimed_blobs", result.ReclaimedBlobs,
		"reclaimed_bytes", result.ReclaimedBytes,
		"orphan_files", result.OrphanFiles,
		"temp_files", result.TempFiles,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *BlobStore) repairRefCounts(ctx context.Context, opts ReconcileOptions, result *ReconcileResult) error {
	after := ""
	for {
		batch, err := s.refs.ListBlobRefMismatches(ctx, after, opts.BatchSize)
		if err != nil {
			return fmt.Errorf("list ref mismatches: %w", err)
		}
		for _, m := range batch {
			after = m.Key
			if opts.DryRun {
				if s.pins.pinned(m.Key) {
					continue
				}
				result.RepairedRows++
				if m.Actual == 0 {
					result.ReclaimCandidates++
				}
				continue
			}
			repaired, err := s.repairOne(ctx, m)
			if err != nil {
				result.Failed++
				s.logger.Warn("repair ref count failed", "key", m.Key, "error", err)
				continue
			}
			if repaired {
				result.RepairedRows++
				s.metrics.RefRepaired()
				s.logger.Info("repaired blob ref count", "key", m.Key, "from", m.RefCount, "to", m.Actual)
			}
		}
		if len(batch) < opts.BatchSize {
			return nil
		}
	}
}

func (s *BlobStore) repairOne(ctx context.Context, m models.BlobRefMismatch) (bool, error) {
	unlock := s.locks.lock(m.Key)
	defer unlock()
	if s.pins.pinned(m.Key) {
		return false, nil
	}
	return s.refs.RepairBlobRefCount(ctx, m.Key, m.RefCount)
}

func (s *BlobStore) reclaimUnreferenced(ctx context.Context, opts ReconcileOptions, result *ReconcileResult) error {
	after := ""
	for {
		batch, err := s.refs.ListReclaimableBlobs(ctx, after, opts.BatchSize)
		if err != nil {
			return fmt.Errorf("list reclaimable blobs: %w", err)
		}
		for _, blob := range batch {
			after = blob.Key
			if opts.DryRun {
				if !s.pins.pinned(blob.Key) {
					result.ReclaimCandidates++
				}
				continue
			}
			result.ReclaimCandidates++
			deleted, err := s.Reclaim(ctx, blob.Key)
			if deleted {
				result.ReclaimedBlobs++
				result.ReclaimedBytes += blob.SizeBytes
			}
			if err != nil {
				result.Failed++
				s.logger.Warn("reclaim blob failed", "key", blob.Key, "error", err)
			}
		}
		if len(batch) < opts.BatchSize {
			return nil
		}
	}
}

func (s *BlobStore) removeOrphanFiles(ctx context.Context, opts ReconcileOptions, result *ReconcileResult) error {
	var keys []string
	if err := s.cas.Walk(ctx, func(key string) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return fmt.Errorf("walk blob tree: %w", err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		removed, err := s.removeIfOrphan(ctx, key, opts.DryRun)
		if err != nil {
			result.Failed++
			s.logger.Warn("orphan check failed", "key", key, "error", err)
			continue
		}
		if removed {
			result.OrphanFiles++
		}
	}
	return nil
}

func (s *BlobStore) removeIfOrphan(ctx context.Context, key string, dryRun bool) (bool, error) {
	unlock := s.locks.lock(key)
	defer unlock()
	if s.pins.pinned(key) {
		return false, nil
	}
	blob, err := s.refs.GetBlob(ctx, key)
	if err != nil {
		return false, err
	}
	if blob != nil {
		return false, nil
	}
	if dryRun {
		return true, nil
	}
	if err := s.cas.Remove(key); err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	s.metrics.OrphanFileRemoved()
	s.logger.Info("removed orphan blob file", "key", key)
	return true, nil
}
