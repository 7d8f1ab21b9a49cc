package invoice

import "errors"

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrOwnershipViolation     = errors.New("invoice belongs to another user")
	ErrNotFound               = errors.New("not found")
	ErrAlreadyAnalyzed        = errors.New("invoice already analyzed")
	ErrConfiguration          = errors.New("extraction backend unavailable")
	ErrFetch                  = errors.New("fetching document")
	ErrParse                  = errors.New("malformed extraction output")
	ErrStorageWrite           = errors.New("storage write failed")
	ErrStorageDelete          = errors.New("storage delete failed")
	ErrPersistence            = errors.New("persistence failed")
	ErrInvalidItem            = errors.New("quantity and unit price must be non-negative")
	ErrInvalidDocument        = errors.New("document is not a readable PDF")
)
