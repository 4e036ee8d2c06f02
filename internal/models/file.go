package models

import (
	"fmt"
	"strings"
	"time"
)

// FileRecord is one user-visible file. BlobKey is the immutable reference to
// the stored bytes; OwnerID never changes after creation.
type FileRecord struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path"`
	SHA256    string    `json:"sha256"`
	BlobKey   string    `json:"-"`
	SizeBytes int64     `json:"size_bytes"`
	MediaType string    `json:"media_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileSortField selects the list ordering key.
type FileSortField string

const (
	SortByCreated FileSortField = "created"
	SortByName    FileSortField = "name"
	SortBySize    FileSortField = "size"
)

var validFileSortFields = map[FileSortField]struct{}{
	SortByCreated: {},
	SortByName:    {},
	SortBySize:    {},
}

// ParseFileSortField parses a sort key, defaulting to creation time.
func ParseFileSortField(raw string) (FileSortField, error) {
	value := FileSortField(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return SortByCreated, nil
	}
	if value == "created_at" {
		value = SortByCreated
	}
	if _, ok := validFileSortFields[value]; !ok {
		return "", fmt.Errorf("invalid sort field: %s", value)
	}
	return value, nil
}

// ParseSortDescending interprets an order value of asc or desc.
func ParseSortDescending(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "asc":
		return false, nil
	case "desc":
		return true, nil
	default:
		return false, fmt.Errorf("invalid sort order: %s", raw)
	}
}
