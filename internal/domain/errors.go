package domain

import (
	"errors"
	"fmt"
)

// Validation errors fail fast at submission time and are never retried.
var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrSameName        = errors.New("old name and new name are equivalent")
	ErrEmptyBatch      = errors.New("submission list must be a non-empty list of name pairs")
)

// Not-found errors are terminal.
var (
	ErrPlayerNotFound     = errors.New("player not found")
	ErrNameChangeNotFound = errors.New("name change not found")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrArchiveNotFound    = errors.New("archive not found")
)

var (
	// ErrPlayerArchived rejects operations against an archived identity.
	ErrPlayerArchived = errors.New("player is archived")

	// ErrHiscoresNotFound means the name does not appear on the hiscores.
	ErrHiscoresNotFound = errors.New("name not found on the hiscores")

	// ErrPlayerFlagged aborts an update whose candidate snapshot was
	// rejected and escalated to manual review. Terminal, not retried.
	ErrPlayerFlagged = errors.New("player flagged for manual review")

	// ErrHiscoresUnavailable means the hiscores service could not be
	// reached. It is classified transient and retried by the job runtime.
	ErrHiscoresUnavailable = errors.New("hiscores service unavailable")

	// ErrTransactionFailed marks a merge/split transaction that rolled
	// back. It is fatal and never retried automatically.
	ErrTransactionFailed = errors.New("transaction failed")
)

// ConflictError reports a submission that collides with an existing request
// and carries the id of the conflicting request.
type ConflictError struct {
	Message       string
	ConflictingID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s (conflicting request %d)", e.Message, e.ConflictingID)
}

// IsValidation reports whether err is a synchronous validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidUsername) ||
		errors.Is(err, ErrSameName) ||
		errors.Is(err, ErrEmptyBatch)
}

// IsNotFound reports whether err is a terminal not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrNameChangeNotFound) ||
		errors.Is(err, ErrSnapshotNotFound) ||
		errors.Is(err, ErrArchiveNotFound) ||
		errors.Is(err, ErrHiscoresNotFound)
}

// IsConflict reports whether err is a duplicate-request conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// IsTransient reports whether err may succeed on retry. Only upstream
// unavailability qualifies.
func IsTransient(err error) bool {
	return errors.Is(err, ErrHiscoresUnavailable)
}
