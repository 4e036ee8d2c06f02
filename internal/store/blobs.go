package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"filevault/internal/models"
)

const blobColumns = "blob_key, sha256, owner_scope, size_bytes, compression, ref_count, created_at, updated_at"

// GetBlob returns one blob row, or nil when absent.
func (s *Store) GetBlob(ctx context.Context, key string) (*models.Blob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE blob_key = ?`, key)
	return scanBlob(row)
}

// AcquireBlob takes one reference on blob.Key, inserting the row with a
// count of one when it does not exist yet.
func (s *Store) AcquireBlob(ctx context.Context, blob models.Blob, replaced bool) (acquired models.Blob, err error) {
	blob.Key = strings.TrimSpace(blob.Key)
	if blob.Key == "" {
		return acquired, fmt.Errorf("blob key is required")
	}
	if blob.Compression == "" {
		blob.Compression = string(models.CompressionNone)
	}
	now := dbFormatTime(time.Now())
	replacedInt := 0
	if replaced {
		replacedInt = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return acquired, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO blobs (blob_key, sha256, owner_scope, size_bytes, compression, ref_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(blob_key) DO UPDATE SET
		  ref_count = ref_count + 1,
		  size_bytes = CASE WHEN ? = 1 THEN excluded.size_bytes ELSE size_bytes END,
		  compression = CASE WHEN ? = 1 THEN excluded.compression ELSE compression END,
		  updated_at = excluded.updated_at
	`, blob.Key, blob.SHA256, blob.OwnerScope, blob.SizeBytes, blob.Compression, now, now, replacedInt, replacedInt); err != nil {
		return acquired, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE blob_key = ?`, blob.Key)
	loaded, err := scanBlob(row)
	if err != nil {
		return acquired, err
	}
	if loaded == nil {
		err = fmt.Errorf("blob %q vanished after acquire", blob.Key)
		return acquired, err
	}
	if err = tx.Commit(); err != nil {
		return acquired, err
	}
	return *loaded, nil
}

// ReleaseBlob drops one reference and returns the remaining count. The count
// never goes below zero.
func (s *Store) ReleaseBlob(ctx context.Context, key string) (remaining int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	remaining, err = decrementBlobRefTx(ctx, tx, key)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return remaining, nil
}

func decrementBlobRefTx(ctx context.Context, tx *sql.Tx, key string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
		UPDATE blobs
		SET ref_count = ref_count - 1, updated_at = ?
		WHERE blob_key = ? AND ref_count > 0
	`, dbFormatTime(time.Now()), key); err != nil {
		return 0, err
	}
	var remaining int64
	err := tx.QueryRowContext(ctx, `SELECT ref_count FROM blobs WHERE blob_key = ?`, key).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("blob %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// DeleteBlobIfUnreferenced deletes the row when its count is zero and no file
// record still points at it. It returns the deleted row, or nil when nothing
// was deleted.
func (s *Store) DeleteBlobIfUnreferenced(ctx context.Context, key string) (deleted *models.Blob, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	blob, err := scanBlob(tx.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE blob_key = ?`, key))
	if err != nil {
		return nil, err
	}
	if blob == nil || blob.RefCount > 0 {
		err = tx.Rollback()
		return nil, err
	}

	var referenced int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM files WHERE blob_key = ? LIMIT 1`, key).Scan(&referenced)
	if err == nil {
		// Count and records disagree; leave it for RepairBlobRefCount.
		err = tx.Rollback()
		return nil, err
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM blobs WHERE blob_key = ? AND ref_count = 0`, key); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return blob, nil
}

// ListReclaimableBlobs returns blobs with a zero count, keyed after afterKey.
func (s *Store) ListReclaimableBlobs(ctx context.Context, afterKey string, limit int) ([]models.Blob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+blobColumns+`
		FROM blobs
		WHERE ref_count = 0 AND blob_key > ?
		ORDER BY blob_key ASC
		LIMIT ?
	`, afterKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blobs := []models.Blob{}
	for rows.Next() {
		blob, err := scanBlob(rows)
		if err != nil {
			return nil, err
		}
		if blob == nil {
			continue
		}
		blobs = append(blobs, *blob)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return blobs, nil
}

// ListBlobRefMismatches returns blobs whose count differs from the number of
// file records referencing them, keyed after afterKey.
func (s *Store) ListBlobRefMismatches(ctx context.Context, afterKey string, limit int) ([]models.BlobRefMismatch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT blob_key, ref_count, actual
		FROM (
		  SELECT b.blob_key, b.ref_count,
		    (SELECT COUNT(*) FROM files f WHERE f.blob_key = b.blob_key) AS actual
		  FROM blobs b
		  WHERE b.blob_key > ?
		)
		WHERE ref_count != actual
		ORDER BY blob_key ASC
		LIMIT ?
	`, afterKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mismatches := []models.BlobRefMismatch{}
	for rows.Next() {
		var m models.BlobRefMismatch
		if err := rows.Scan(&m.Key, &m.RefCount, &m.Actual); err != nil {
			return nil, err
		}
		mismatches = append(mismatches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return mismatches, nil
}

// RepairBlobRefCount recounts key's references, but only if the stored count
// still equals expected.
func (s *Store) RepairBlobRefCount(ctx context.Context, key string, expected int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE blobs
		SET ref_count = (SELECT COUNT(*) FROM files WHERE blob_key = ?), updated_at = ?
		WHERE blob_key = ? AND ref_count = ?
	`, key, dbFormatTime(time.Now()), key, expected)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanBlob(scanner interface {
	Scan(dest ...any) error
}) (*models.Blob, error) {
	var blob models.Blob
	var createdAt string
	var updatedAt string
	if err := scanner.Scan(&blob.Key, &blob.SHA256, &blob.OwnerScope, &blob.SizeBytes, &blob.Compression, &blob.RefCount, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	parsedCreated, err := dbParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	parsedUpdated, err := dbParseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	blob.CreatedAt = parsedCreated
	blob.UpdatedAt = parsedUpdated
	return &blob, nil
}
