package wiki

import "errors"

var (
	// ErrNotFound means the storage layer holds no page at the locator.
	ErrNotFound = errors.New("page not found")
	// ErrWriteFailure means a put or delete against storage failed.
	ErrWriteFailure = errors.New("failed to write page")
	// ErrFetchFailure means a read or listing failed for a reason other than absence.
	ErrFetchFailure = errors.New("failed to fetch page")
)
