package dbfile

import "fmt"

// LockState is the lock a [Handle] currently holds.
//
// [Shared] and [Exclusive] double as the requested mode in a [LockRequest].
type LockState int32

const (
	Unlocked LockState = iota
	Shared
	Exclusive
)

func (s LockState) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("LockState(%d)", int32(s))
	}
}

// LockRequest asks for a whole-file lock.
type LockRequest struct {
	// Mode is [Shared] or [Exclusive].
	Mode LockState
	// Blocking waits until the lock is granted. Otherwise the request fails
	// with [WouldBlock] if any conflicting holder exists.
	Blocking bool
}

// LockOutcome is the result of one lock acquisition attempt.
type LockOutcome int

const (
	// Acquired means the requested mode is now held.
	Acquired LockOutcome = iota
	// WouldBlock means a non-blocking request met a conflicting holder.
	WouldBlock
	// Denied means the OS refused the request.
	Denied
)

func (o LockOutcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case WouldBlock:
		return "would-block"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("LockOutcome(%d)", int(o))
	}
}

// LockBackend is one OS locking primitive.
//
// Acquire performs exactly one OS call and never retries. It returns the
// outcome and, for anything other than [Acquired], the OS error behind it.
type LockBackend interface {
	Strategy() LockStrategy
	Acquire(fd uintptr, mode LockState, blocking bool) (LockOutcome, error)
	Release(fd uintptr) error
	// ProcessScoped reports whether locks belong to the process rather than
	// the open file description. Such locks are shared by every descriptor
	// the process has on the file and all of them drop when any descriptor
	// on the file is closed.
	ProcessScoped() bool
	// AtomicConvert reports whether acquiring a different mode while a lock
	// is held replaces it without a release window.
	AtomicConvert() bool
}

// lockBackendFor returns the compiled-in backend for s, or nil.
func lockBackendFor(s LockStrategy) LockBackend {
	switch s {
	case LockWholeFile:
		return newWholeFileLock()
	case LockByteRange:
		return newByteRangeLock()
	case LockMandatory:
		return newMandatoryLock()
	default:
		return nil
	}
}
