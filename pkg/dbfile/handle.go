package dbfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calvinalkan/dbfile/pkg/fs"
)

// Options configures [Open] and [NewHandle]. The zero value uses the real
// filesystem, the host profile and automatic backend selection.
type Options struct {
	// FS opens files for [Open]. Defaults to [fs.NewReal].
	FS fs.FS

	// Capabilities overrides the host profile used for selection.
	Capabilities *Capabilities

	// Select forces particular strategies. Ignored when Backends is set.
	Select Selection

	// Backends bypasses selection entirely. Every field must be non-nil.
	Backends *Backends

	// Logger receives lock transitions (Debug) and degraded-durability
	// warnings. Defaults to discarding.
	Logger *slog.Logger
}

func (o Options) fs() fs.FS {
	if o.FS == nil {
		return fs.NewReal()
	}

	return o.FS
}

func (o Options) caps() Capabilities {
	if o.Capabilities == nil {
		return HostCapabilities()
	}

	return *o.Capabilities
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return o.Logger
}

func (o Options) backends() (Backends, error) {
	if o.Backends == nil {
		return SelectBackends(o.caps(), o.Select)
	}

	b := *o.Backends
	if b.Lock == nil || b.Sync == nil || b.Truncate == nil || b.Link == nil {
		return Backends{}, errors.New("dbfile: options: Backends has nil fields")
	}

	return b, nil
}

// Handle is an open database file plus the backends that lock, sync,
// truncate and link it.
//
// A Handle starts [Unlocked]. Lock state is only ever changed by the
// handle's own calls, except for byte-range handles: those share the
// process's lock with every other byte-range handle on the same file (see
// [Handle.ProcessScopedLocks]).
//
// A Handle is not meant to be shared between goroutines; give each goroutine
// its own. All methods return [ErrClosed] after [Handle.Close].
type Handle struct {
	file fs.File
	path string

	caps     Capabilities
	backends Backends
	logger   *slog.Logger

	state  atomic.Int32
	closed atomic.Bool

	// Set only for process-scoped lock backends.
	id    fileIdentity
	procs *processLockEntry

	warnDegraded sync.Once
}

// Open opens path with flag and perm through opts.FS and wraps it in a
// [Handle].
func Open(path string, flag int, perm os.FileMode, opts Options) (*Handle, error) {
	f, err := opts.fs().OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("dbfile: open: %w", err)
	}

	h, err := NewHandle(f, opts)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}

	return h, nil
}

// NewHandle wraps an already open file. The handle takes ownership of f and
// closes it in [Handle.Close]. On error f is left open.
func NewHandle(f fs.File, opts Options) (*Handle, error) {
	b, err := opts.backends()
	if err != nil {
		return nil, err
	}

	h := &Handle{
		file:     f,
		path:     f.Name(),
		caps:     opts.caps(),
		backends: b,
		logger:   opts.logger().With("path", f.Name()),
	}

	if b.Lock.ProcessScoped() {
		id, err := identify(f.Fd())
		if err != nil {
			return nil, fmt.Errorf("dbfile: identify %s: %w", f.Name(), err)
		}

		h.id = id
		h.procs = joinProcessLocks(id, h)
	}

	return h, nil
}

// Path returns the name the file was opened with.
func (h *Handle) Path() string { return h.path }

// File returns the underlying file for reads and writes. Closing it directly
// bypasses lock bookkeeping; use [Handle.Close].
func (h *Handle) File() fs.File { return h.file }

// Capabilities returns the profile the handle's backends were chosen from.
func (h *Handle) Capabilities() Capabilities { return h.caps }

// LockStrategy reports the lock backend in use.
func (h *Handle) LockStrategy() LockStrategy { return h.backends.Lock.Strategy() }

// SyncStrategy reports the durability backend in use.
func (h *Handle) SyncStrategy() SyncStrategy { return h.backends.Sync.Strategy() }

// TruncateStrategy reports the truncation backend in use.
func (h *Handle) TruncateStrategy() TruncateStrategy { return h.backends.Truncate.Strategy() }

// ProcessScopedLocks reports whether this handle's lock belongs to the
// process. When true, every handle this process has on the same file shares
// one lock: locking through any of them replaces it, and unlocking or
// closing any of them releases it for all. [Handle.State] reflects this.
func (h *Handle) ProcessScopedLocks() bool { return h.procs != nil }

// State returns the lock currently held.
func (h *Handle) State() LockState { return LockState(h.state.Load()) }

// Lock acquires mode, waiting for conflicting holders to go away.
func (h *Handle) Lock(mode LockState) error {
	_, err := h.Acquire(LockRequest{Mode: mode, Blocking: true})

	return err
}

// TryLock acquires mode or fails immediately with [ErrLockUnavailable].
func (h *Handle) TryLock(mode LockState) error {
	_, err := h.Acquire(LockRequest{Mode: mode})

	return err
}

// Acquire performs one lock attempt.
//
// Requesting the mode already held succeeds without an OS call. Changing
// between [Shared] and [Exclusive] on a backend without atomic conversion
// releases first; if the new mode is then not granted the handle is
// [Unlocked] and the error also matches [ErrLockLost].
//
// A [WouldBlock] outcome returns an error matching [ErrLockUnavailable];
// [Denied] matches [ErrLockDenied]. Acquire never retries a non-blocking
// request. A blocking request on a process-scoped lock is served by polling
// non-blocking attempts, so sibling handles are never stalled behind it.
func (h *Handle) Acquire(req LockRequest) (LockOutcome, error) {
	if h.closed.Load() {
		return Denied, ErrClosed
	}

	if req.Mode != Shared && req.Mode != Exclusive {
		return Denied, fmt.Errorf("%w: %s", ErrInvalidMode, req.Mode)
	}

	if h.procs == nil {
		return h.acquireLocked(req)
	}

	if req.Blocking {
		return h.waitProcessLock(req.Mode)
	}

	h.procs.mu.Lock()
	defer h.procs.mu.Unlock()

	return h.acquireLocked(req)
}

const (
	minProcessLockBackoff = time.Millisecond
	maxProcessLockBackoff = 25 * time.Millisecond
)

// waitProcessLock retries non-blocking attempts with backoff until mode is
// granted. procs.mu is held only for each attempt, never across a sleep.
func (h *Handle) waitProcessLock(mode LockState) (LockOutcome, error) {
	backoff := minProcessLockBackoff
	lost := false

	for {
		h.procs.mu.Lock()

		if h.closed.Load() {
			h.procs.mu.Unlock()

			return Denied, ErrClosed
		}

		outcome, err := h.acquireLocked(LockRequest{Mode: mode})
		h.procs.mu.Unlock()

		switch {
		case outcome == Acquired:
			return Acquired, nil
		case outcome != WouldBlock:
			if lost && !errors.Is(err, ErrLockLost) {
				err = fmt.Errorf("%w: %w", ErrLockLost, err)
			}

			return outcome, err
		}

		lost = lost || errors.Is(err, ErrLockLost)

		time.Sleep(backoff)
		backoff = min(backoff*2, maxProcessLockBackoff)
	}
}

// acquireLocked issues the OS request. Callers hold procs.mu when procs is
// set.
func (h *Handle) acquireLocked(req LockRequest) (LockOutcome, error) {
	held := h.State()
	if held == req.Mode {
		return Acquired, nil
	}

	released := false

	if held != Unlocked && !h.backends.Lock.AtomicConvert() {
		if err := h.backends.Lock.Release(h.file.Fd()); err != nil {
			return Denied, fmt.Errorf("%w: release %s before %s: %w", ErrLockDenied, held, req.Mode, err)
		}

		h.setState(Unlocked)
		released = true
	}

	outcome, cause := h.backends.Lock.Acquire(h.file.Fd(), req.Mode, req.Blocking)

	var err error

	switch outcome {
	case Acquired:
		h.setState(req.Mode)
		h.logger.Debug("lock acquired", "mode", req.Mode.String(), "from", held.String(),
			"strategy", h.backends.Lock.Strategy().String())

		return Acquired, nil
	case WouldBlock:
		err = fmt.Errorf("%w: %s: %w", ErrLockUnavailable, req.Mode, cause)
	default:
		outcome = Denied
		err = fmt.Errorf("%w: %s: %w", ErrLockDenied, req.Mode, cause)
	}

	if released {
		h.logger.Warn("lock lost during mode change", "from", held.String(), "to", req.Mode.String(),
			"outcome", outcome.String())

		err = fmt.Errorf("%w: %w", ErrLockLost, err)
	}

	return outcome, err
}

// Unlock releases the held lock. Unlocking an unlocked handle is a no-op.
func (h *Handle) Unlock() error {
	if h.closed.Load() {
		return ErrClosed
	}

	if h.procs != nil {
		h.procs.mu.Lock()
		defer h.procs.mu.Unlock()
	}

	return h.unlockLocked()
}

func (h *Handle) unlockLocked() error {
	held := h.State()
	if held == Unlocked {
		return nil
	}

	if err := h.backends.Lock.Release(h.file.Fd()); err != nil {
		return fmt.Errorf("dbfile: unlock %s: %w", held, err)
	}

	h.setState(Unlocked)
	h.logger.Debug("lock released", "from", held.String())

	return nil
}

// setState records s for h and, for process-scoped locks, every sibling.
// Callers hold procs.mu when procs is set.
func (h *Handle) setState(s LockState) {
	if h.procs != nil {
		h.procs.broadcast(s)

		return
	}

	h.state.Store(int32(s))
}

// ForceSync makes every write issued through this handle before the call
// durable and returns the strategy used.
//
// A degraded strategy ([SyncStrategy.Degraded]) cannot observe failures and
// is not scoped to this file; a nil error then only means the flush was
// issued. The first degraded sync on a handle logs a warning.
func (h *Handle) ForceSync() (SyncStrategy, error) {
	strategy := h.backends.Sync.Strategy()

	if h.closed.Load() {
		return strategy, ErrClosed
	}

	if strategy.Degraded() {
		h.warnDegraded.Do(func() {
			h.logger.Warn("durability degraded", "sync", strategy.String())
		})
	}

	if err := h.backends.Sync.Sync(h.file); err != nil {
		return strategy, err
	}

	return strategy, nil
}

// TruncateToEmpty resets the file to zero length. The descriptor stays open,
// the lock state is unchanged and the file offset is 0 afterwards.
func (h *Handle) TruncateToEmpty() error {
	if h.closed.Load() {
		return ErrClosed
	}

	return h.backends.Truncate.TruncateToEmpty(h.file)
}

// LinkTo gives this handle's file the additional name newPath. newPath is
// never overwritten; failures are *[LinkError].
func (h *Handle) LinkTo(newPath string) error {
	if h.closed.Load() {
		return ErrClosed
	}

	return h.backends.Link.Link(h.path, newPath)
}

// Link creates newPath as a hard link to existing with this handle's link
// backend.
func (h *Handle) Link(existing, newPath string) error {
	if h.closed.Load() {
		return ErrClosed
	}

	return h.backends.Link.Link(existing, newPath)
}

// ReadAt reads from the file at off.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}

	return h.file.ReadAt(p, off)
}

// WriteAt writes to the file at off.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}

	return h.file.WriteAt(p, off)
}

// Size returns the current file length.
func (h *Handle) Size() (int64, error) {
	if h.closed.Load() {
		return 0, ErrClosed
	}

	info, err := h.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("dbfile: stat %s: %w", h.path, err)
	}

	return info.Size(), nil
}

// Close releases any held lock and closes the file. Close is idempotent.
//
// For process-scoped locks, closing the descriptor drops the process's lock
// on the file even when this handle did not take it; every sibling becomes
// [Unlocked].
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	if h.procs != nil {
		h.procs.mu.Lock()
		defer h.procs.mu.Unlock()
	}

	if h.procs != nil && h.procs.siblings() > 1 && h.State() != Unlocked {
		h.logger.Debug("close releases process lock for sibling handles",
			"siblings", h.procs.siblings()-1)
	}

	unlockErr := h.unlockLocked()
	closeErr := h.file.Close()

	if h.procs != nil {
		h.procs.broadcast(Unlocked)
		h.procs.leave(h.id, h)
	}

	return errors.Join(unlockErr, closeErr)
}
