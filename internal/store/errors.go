package store

import (
	"errors"
	"strings"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrForbidden    = errors.New("record belongs to another owner")
	ErrInvalidOwner = errors.New("owner does not exist or is disabled")
	ErrBlobMissing  = errors.New("referenced blob does not exist")
	ErrConflict     = errors.New("already exists")
)

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
