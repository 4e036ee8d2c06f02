package blobstore

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrStorageFull = errors.New("blob storage is full")
	ErrIO          = errors.New("blob storage i/o failure")
	ErrTruncated   = errors.New("blob stream truncated")
	ErrInvalidKey  = errors.New("invalid blob key")
)

// diskError classifies a filesystem failure so callers can tell a full
// volume apart from other disk errors.
func diskError(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%s: %w: %w", op, ErrStorageFull, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}
