package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"filevault/internal/models"
)

const fileColumns = "id, owner_id, filename, path, sha256, blob_key, size_bytes, media_type, created_at, updated_at"

// ListOptions controls ListByOwner ordering and paging. A nil Path lists
// every folder; a non-nil Path restricts to that exact folder.
type ListOptions struct {
	Sort   models.FileSortField
	Desc   bool
	Path   *string
	Limit  int
	Offset int
}

// OwnerUsage summarizes one owner's records.
type OwnerUsage struct {
	Files     int64 `json:"files"`
	SizeBytes int64 `json:"size_bytes"`
}

// CreateRecord inserts a file record that references an existing blob row.
// The blob's reference was already taken by the upload, so the count is not
// touched here.
func (s *Store) CreateRecord(ctx context.Context, record *models.FileRecord) (id int64, err error) {
	if record == nil {
		return 0, fmt.Errorf("record is required")
	}
	if strings.TrimSpace(record.Filename) == "" {
		return 0, fmt.Errorf("filename is required")
	}
	if strings.TrimSpace(record.BlobKey) == "" {
		return 0, fmt.Errorf("blob key is required")
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = ensureActiveOwnerTx(ctx, tx, record.OwnerID); err != nil {
		return 0, err
	}

	var blobExists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE blob_key = ? LIMIT 1`, record.BlobKey).Scan(&blobExists)
	if err == sql.ErrNoRows {
		err = fmt.Errorf("blob %q: %w", record.BlobKey, ErrBlobMissing)
		return 0, err
	}
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO files (owner_id, filename, path, sha256, blob_key, size_bytes, media_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.OwnerID, record.Filename, record.Path, record.SHA256, record.BlobKey, record.SizeBytes, record.MediaType,
		dbFormatTime(record.CreatedAt), dbFormatTime(record.UpdatedAt))
	if err != nil {
		return 0, err
	}
	id, err = result.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	record.ID = id
	return id, nil
}

func ensureActiveOwnerTx(ctx context.Context, tx *sql.Tx, ownerID int64) error {
	if ownerID <= 0 {
		return fmt.Errorf("owner %d: %w", ownerID, ErrInvalidOwner)
	}
	var disabled int
	err := tx.QueryRowContext(ctx, `SELECT disabled FROM users WHERE id = ?`, ownerID).Scan(&disabled)
	if err == sql.ErrNoRows {
		return fmt.Errorf("owner %d: %w", ownerID, ErrInvalidOwner)
	}
	if err != nil {
		return err
	}
	if disabled != 0 {
		return fmt.Errorf("owner %d: %w", ownerID, ErrInvalidOwner)
	}
	return nil
}

// GetRecord returns one record visible to callerOwnerID.
func (s *Store) GetRecord(ctx context.Context, id, callerOwnerID int64) (*models.FileRecord, error) {
	record, err := scanFileRecord(s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(record, id, callerOwnerID); err != nil {
		return nil, err
	}
	return record, nil
}

// FindRecordByDigest returns the oldest record of ownerID holding digest,
// or nil when the owner has none.
func (s *Store) FindRecordByDigest(ctx context.Context, ownerID int64, digest string) (*models.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE owner_id = ? AND sha256 = ?
		ORDER BY id ASC
		LIMIT 1
	`, ownerID, digest)
	return scanFileRecord(row)
}

// ListByOwner returns ownerID's records in a deterministic order; id breaks
// ties between equal sort keys.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64, opts ListOptions) ([]models.FileRecord, error) {
	orderColumn := "created_at"
	switch opts.Sort {
	case models.SortByName:
		orderColumn = "filename COLLATE NOCASE"
	case models.SortBySize:
		orderColumn = "size_bytes"
	case models.SortByCreated, "":
	default:
		return nil, fmt.Errorf("invalid sort field: %s", opts.Sort)
	}
	direction := "ASC"
	if opts.Desc {
		direction = "DESC"
	}

	var b strings.Builder
	args := []any{ownerID}
	b.WriteString(`SELECT ` + fileColumns + ` FROM files WHERE owner_id = ?`)
	if opts.Path != nil {
		b.WriteString(` AND path = ?`)
		args = append(args, *opts.Path)
	}
	fmt.Fprintf(&b, ` ORDER BY %s %s, id %s`, orderColumn, direction, direction)
	if opts.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			b.WriteString(` OFFSET ?`)
			args = append(args, opts.Offset)
		}
	} else if opts.Offset > 0 {
		b.WriteString(` LIMIT -1 OFFSET ?`)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.FileRecord{}
	for rows.Next() {
		record, err := scanFileRecord(rows)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteRecord removes one record and drops its blob reference in the same
// transaction. It returns the deleted record and the blob's remaining count.
func (s *Store) DeleteRecord(ctx context.Context, id, callerOwnerID int64) (deleted *models.FileRecord, remaining int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	record, err := scanFileRecord(tx.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err != nil {
		return nil, 0, err
	}
	if err = checkOwnership(record, id, callerOwnerID); err != nil {
		return nil, 0, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return nil, 0, err
	}
	remaining, err = decrementBlobRefTx(ctx, tx, record.BlobKey)
	if err != nil {
		return nil, 0, err
	}
	if err = tx.Commit(); err != nil {
		return nil, 0, err
	}
	return record, remaining, nil
}

// RecordUpdate names the fields UpdateRecord changes. Nil fields are kept.
type RecordUpdate struct {
	Filename *string
	Path     *string
}

// RenameRecord changes the filename only.
func (s *Store) RenameRecord(ctx context.Context, id, callerOwnerID int64, newName string) (*models.FileRecord, error) {
	return s.UpdateRecord(ctx, id, callerOwnerID, RecordUpdate{Filename: &newName})
}

// MoveRecord changes the logical folder only.
func (s *Store) MoveRecord(ctx context.Context, id, callerOwnerID int64, newPath string) (*models.FileRecord, error) {
	return s.UpdateRecord(ctx, id, callerOwnerID, RecordUpdate{Path: &newPath})
}

// UpdateRecord applies a rename and a move in one transaction.
func (s *Store) UpdateRecord(ctx context.Context, id, callerOwnerID int64, update RecordUpdate) (updated *models.FileRecord, err error) {
	if update.Filename == nil && update.Path == nil {
		return nil, fmt.Errorf("nothing to update")
	}
	if update.Filename != nil && strings.TrimSpace(*update.Filename) == "" {
		return nil, fmt.Errorf("filename is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	record, err := scanFileRecord(tx.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err = checkOwnership(record, id, callerOwnerID); err != nil {
		return nil, err
	}

	if update.Filename != nil {
		record.Filename = *update.Filename
	}
	if update.Path != nil {
		record.Path = *update.Path
	}
	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx,
		`UPDATE files SET filename = ?, path = ?, updated_at = ? WHERE id = ?`,
		record.Filename, record.Path, dbFormatTime(now), id,
	); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	record.UpdatedAt = now
	return record, nil
}

// OwnerUsage counts ownerID's records and their logical bytes.
func (s *Store) OwnerUsage(ctx context.Context, ownerID int64) (OwnerUsage, error) {
	var usage OwnerUsage
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM files
		WHERE owner_id = ?
	`, ownerID).Scan(&usage.Files, &usage.SizeBytes)
	return usage, err
}

func checkOwnership(record *models.FileRecord, id, callerOwnerID int64) error {
	if record == nil {
		return fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	if record.OwnerID != callerOwnerID {
		return fmt.Errorf("file %d: %w", id, ErrForbidden)
	}
	return nil
}

func scanFileRecord(scanner interface {
	Scan(dest ...any) error
}) (*models.FileRecord, error) {
	var record models.FileRecord
	var createdAt string
	var updatedAt string
	if err := scanner.Scan(
		&record.ID,
		&record.OwnerID,
		&record.Filename,
		&record.Path,
		&record.SHA256,
		&record.BlobKey,
		&record.SizeBytes,
		&record.MediaType,
		&createdAt,
		&updatedAt,
	); err != nil {
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
	record.CreatedAt = parsedCreated
	record.UpdatedAt = parsedUpdated
	return &record, nil
}
