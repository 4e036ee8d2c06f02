package store

import "context"

// StoreInfo summarizes database contents for operators.
type StoreInfo struct {
	SchemaVersion     int   `json:"schema_version"`
	Users             int64 `json:"users"`
	Files             int64 `json:"files"`
	Blobs             int64 `json:"blobs"`
	UnreferencedBlobs int64 `json:"unreferenced_blobs"`
	LogicalBytes      int64 `json:"logical_bytes"`
	StoredBytes       int64 `json:"stored_bytes"`
}

// StoreInfo returns row counts and byte totals. StoredBytes counts each
// blob once, so the gap to LogicalBytes is what deduplication saves.
func (s *Store) StoreInfo(ctx context.Context) (*StoreInfo, error) {
	info := &StoreInfo{}
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&info.SchemaVersion); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&info.Users); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM files").Scan(&info.Files, &info.LogicalBytes); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(CASE WHEN ref_count = 0 THEN 1 ELSE 0 END), 0)
		FROM blobs
	`).Scan(&info.Blobs, &info.StoredBytes, &info.UnreferencedBlobs); err != nil {
		return nil, err
	}
	return info, nil
}
