package store

import (
	"context"
	"time"

	"filevault/internal/models"
)

// FileIndex is the metadata index over file records.
type FileIndex interface {
	CreateRecord(ctx context.Context, record *models.FileRecord) (int64, error)
	GetRecord(ctx context.Context, id, callerOwnerID int64) (*models.FileRecord, error)
	FindRecordByDigest(ctx context.Context, ownerID int64, digest string) (*models.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID int64, opts ListOptions) ([]models.FileRecord, error)
	DeleteRecord(ctx context.Context, id, callerOwnerID int64) (*models.FileRecord, int64, error)
	RenameRecord(ctx context.Context, id, callerOwnerID int64, newName string) (*models.FileRecord, error)
	MoveRecord(ctx context.Context, id, callerOwnerID int64, newPath string) (*models.FileRecord, error)
	UpdateRecord(ctx context.Context, id, callerOwnerID int64, update RecordUpdate) (*models.FileRecord, error)
	OwnerUsage(ctx context.Context, ownerID int64) (OwnerUsage, error)
}

// BlobRefs is the blob reference table. It has the same method set as
// blobstore.RefIndex.
type BlobRefs interface {
	GetBlob(ctx context.Context, key string) (*models.Blob, error)
	AcquireBlob(ctx context.Context, blob models.Blob, replaced bool) (models.Blob, error)
	ReleaseBlob(ctx context.Context, key string) (int64, error)
	DeleteBlobIfUnreferenced(ctx context.Context, key string) (*models.Blob, error)
	ListReclaimableBlobs(ctx context.Context, afterKey string, limit int) ([]models.Blob, error)
	ListBlobRefMismatches(ctx context.Context, afterKey string, limit int) ([]models.BlobRefMismatch, error)
	RepairBlobRefCount(ctx context.Context, key string, expected int64) (bool, error)
}

// AuthStore is the identity store behind registration, login, and token checks.
type AuthStore interface {
	CountEnabledUsers(ctx context.Context) (int, error)
	CreateUser(ctx context.Context, username, passwordHash string, now time.Time) (*AuthUser, error)
	GetUserByUsername(ctx context.Context, username string) (*AuthUser, error)
	GetUserByID(ctx context.Context, id int64) (*AuthUser, error)
	ListUsers(ctx context.Context) ([]AuthUser, error)
	SetUserDisabled(ctx context.Context, username string, disabled bool, now time.Time) (*AuthUser, error)
	CreateSession(ctx context.Context, sessionID string, userID int64, expiresAt, createdAt time.Time) error
	SessionActive(ctx context.Context, sessionID string, userID int64, now time.Time) (bool, error)
	RevokeSession(ctx context.Context, sessionID string, revokedAt time.Time) error
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Backend is everything the HTTP server reads and writes.
type Backend interface {
	FileIndex
	BlobRefs
	AuthStore
	StoreInfo(ctx context.Context) (*StoreInfo, error)
}

var (
	_ FileIndex = (*Store)(nil)
	_ BlobRefs  = (*Store)(nil)
	_ AuthStore = (*Store)(nil)
	_ Backend   = (*Store)(nil)
)
