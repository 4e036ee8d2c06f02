package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument = 1000
	ErrCodeInvalidJSON     = 1001
	ErrCodeRequestTooLarge = 1002
	ErrCodeInvalidQuery    = 1003
	ErrCodeInvalidID       = 1004
	ErrCodeInvalidFilename = 1005
	ErrCodeInvalidPath     = 1006
	ErrCodeInvalidDigest   = 1007
	ErrCodeInvalidUsername = 1008
	ErrCodeMissingRequired = 1009
	ErrCodeInvalidPassword = 1010
	ErrCodeInvalidOwner    = 1015
	ErrCodeTruncatedUpload = 1016

	// Domain state (2xxx)
	ErrCodeFileNotFound = 2001
	ErrCodeBlobNotFound = 2002
	ErrCodeConflict     = 2102

	// Auth & limits (3xxx)
	ErrCodeUnauthorized      = 3001
	ErrCodeForbidden         = 3002
	ErrCodeResourceExhausted = 3003

	// Internal/system (4xxx)
	ErrCodeInternal       = 4001
	ErrCodeStoreFailure   = 4002
	ErrCodeNotImplemented = 4005
	ErrCodeStorageFull    = 4006
	ErrCodeIOFailure      = 4007
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 401:
		return ErrCodeUnauthorized
	case 403:
		return ErrCodeForbidden
	case 404:
		return ErrCodeFileNotFound
	case 409:
		return ErrCodeConflict
	case 413:
		return ErrCodeRequestTooLarge
	case 422:
		return ErrCodeInvalidOwner
	case 429:
		return ErrCodeResourceExhausted
	case 500:
		return ErrCodeInternal
	case 501:
		return ErrCodeNotImplemented
	case 503:
		return ErrCodeIOFailure
	case 507:
		return ErrCodeStorageFull
	default:
		return 0
	}
}
