package errs

import (
	"errors"
)

var (
	// ErrNotFound - referenced book or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState - operation attempted from a status that does not permit it.
	ErrInvalidState = errors.New("operation not allowed in current status")
	// ErrRenewalNotAllowed - renewal attempted on an overdue book.
	ErrRenewalNotAllowed = errors.New("book is overdue, renewal is not allowed: please contact the library in person")
	// ErrPermission - caller is neither the owner of the record nor an admin.
	ErrPermission = errors.New("permission denied")
	// ErrConcurrentModification - conditional write lost a race; the caller must
	// re-fetch and decide whether to retry.
	ErrConcurrentModification = errors.New("book was modified concurrently")
	// ErrValidation - malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable - the backing store is unreachable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrLedgerAppend - the state transition succeeded but the audit ledger
	// append did not; surfaced as a warning, never as operation failure.
	ErrLedgerAppend = errors.New("ledger append failed")
)
