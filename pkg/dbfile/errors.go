package dbfile

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by dbfile operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, dbfile.ErrLockUnavailable) {
//	    // back off and retry
//	}
var (
	// ErrLockUnavailable indicates a non-blocking lock request could not be
	// satisfied right now because another holder conflicts.
	//
	// Recovery: retry later (see package lockwait for a polled helper).
	ErrLockUnavailable = errors.New("dbfile: lock unavailable")

	// ErrLockDenied indicates the OS refused the lock (permissions, a
	// mandatory-lock conflict reported through an asynchronous completion,
	// deadlock detection, bad descriptor).
	//
	// Recovery: do not retry blindly; inspect the wrapped cause.
	ErrLockDenied = errors.New("dbfile: lock denied")

	// ErrLockLost indicates a mode change could not complete after the
	// previously held lock had already been released. The handle is
	// Unlocked when this is returned.
	//
	// Recovery: re-acquire from scratch and re-validate any state read
	// under the old lock.
	ErrLockLost = errors.New("dbfile: lock lost during mode change")

	// ErrSyncFailed indicates a native synchronous flush reported an error.
	// Writes issued before the call may not be durable.
	ErrSyncFailed = errors.New("dbfile: sync failed")

	// ErrSyncUnsupported indicates neither a native flush nor a global flush
	// is available on this platform.
	ErrSyncUnsupported = errors.New("dbfile: sync unsupported")

	// ErrTruncateFailed indicates the file could not be reset to zero length.
	//
	// Recovery: treat as fatal for the calling operation.
	ErrTruncateFailed = errors.New("dbfile: truncate failed")

	// ErrCrossDevice indicates a hard link was requested across storage
	// volumes.
	//
	// Recovery: fall back to a full copy.
	ErrCrossDevice = errors.New("dbfile: cross-device link")

	// ErrAlreadyExists indicates the link destination name is occupied.
	// The destination is never overwritten.
	//
	// Recovery: policy decision (fail, or unlink and retry).
	ErrAlreadyExists = errors.New("dbfile: link destination exists")

	// ErrPermissionDenied indicates the link was refused for lack of
	// permission.
	ErrPermissionDenied = errors.New("dbfile: link permission denied")

	// ErrLinkUnsupported indicates hard links are not available on this
	// platform or filesystem.
	//
	// Recovery: fall back to a full copy.
	ErrLinkUnsupported = errors.New("dbfile: hard links unsupported")

	// ErrStrategyUnsupported indicates an explicitly requested backend is
	// not offered by the capability profile.
	ErrStrategyUnsupported = errors.New("dbfile: strategy unsupported")

	// ErrInvalidMode indicates a lock request named a mode other than
	// [Shared] or [Exclusive].
	//
	// This is a programming error.
	ErrInvalidMode = errors.New("dbfile: invalid lock mode")

	// ErrClosed indicates the [Handle] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("dbfile: handle closed")
)

// LinkErrorKind classifies a hard link failure.
type LinkErrorKind int

const (
	// LinkOther is any failure not covered by a more specific kind.
	LinkOther LinkErrorKind = iota
	LinkCrossDevice
	LinkAlreadyExists
	LinkPermissionDenied
	LinkUnsupported
)

func (k LinkErrorKind) String() string {
	switch k {
	case LinkCrossDevice:
		return "cross-device"
	case LinkAlreadyExists:
		return "already-exists"
	case LinkPermissionDenied:
		return "permission-denied"
	case LinkUnsupported:
		return "unsupported"
	default:
		return "other"
	}
}

// sentinel returns the package sentinel matching k, or nil for [LinkOther].
func (k LinkErrorKind) sentinel() error {
	switch k {
	case LinkCrossDevice:
		return ErrCrossDevice
	case LinkAlreadyExists:
		return ErrAlreadyExists
	case LinkPermissionDenied:
		return ErrPermissionDenied
	case LinkUnsupported:
		return ErrLinkUnsupported
	default:
		return nil
	}
}

// LinkError records a failed hard link and its classification.
//
// errors.Is matches both the underlying OS error and the sentinel for Kind
// ([ErrCrossDevice], [ErrAlreadyExists], [ErrPermissionDenied],
// [ErrLinkUnsupported]).
type LinkError struct {
	Kind LinkErrorKind
	Old  string
	New  string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("dbfile: link %s %s: %s: %v", e.Old, e.New, e.Kind, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

func (e *LinkError) Is(target error) bool {
	s := e.Kind.sentinel()

	return s != nil && target == s
}

// ErrorCategory is the user-visible class a storage engine reports for a
// dbfile error, instead of a raw OS error code.
type ErrorCategory int

const (
	CategoryNone ErrorCategory = iota
	// CategoryBusy covers lock contention and lock refusals.
	CategoryBusy
	// CategoryPersist covers sync and truncate failures.
	CategoryPersist
	// CategoryReplace covers hard link and atomic replace failures.
	CategoryReplace
	// CategoryOther covers everything else, including misuse.
	CategoryOther
)

// Message returns the user-facing message for c.
func (c ErrorCategory) Message() string {
	switch c {
	case CategoryNone:
		return ""
	case CategoryBusy:
		return "database busy"
	case CategoryPersist:
		return "could not persist"
	case CategoryReplace:
		return "could not replace database file"
	default:
		return "database error"
	}
}

func (c ErrorCategory) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryBusy:
		return "busy"
	case CategoryPersist:
		return "persist"
	case CategoryReplace:
		return "replace"
	default:
		return "other"
	}
}

// Category maps err to its user-visible category. A nil error is
// [CategoryNone].
func Category(err error) ErrorCategory {
	var linkErr *LinkError

	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrLockUnavailable), errors.Is(err, ErrLockDenied), errors.Is(err, ErrLockLost):
		return CategoryBusy
	case errors.Is(err, ErrSyncFailed), errors.Is(err, ErrSyncUnsupported), errors.Is(err, ErrTruncateFailed):
		return CategoryPersist
	case errors.As(err, &linkErr), errors.Is(err, ErrReplaceFailed):
		return CategoryReplace
	default:
		return CategoryOther
	}
}
