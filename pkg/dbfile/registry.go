package dbfile

import (
	"sync"
)

// Process-scoped locks
//
// fcntl record locks belong to the process, not to a descriptor. Two handles
// on the same file in one process therefore share one lock: acquiring
// through either replaces it, releasing through either drops it, and closing
// either drops it for both.
//
// Handles backed by a process-scoped backend register here by file
// identity. Every lock transition on such a file runs under the entry mutex
// and is written to the state of every registered handle, so State always
// reports what the process actually holds. The mutex only ever covers
// non-blocking OS calls; blocking requests poll.

// fileIdentity uniquely identifies a file by device and inode.
type fileIdentity struct {
	dev uint64
	ino uint64
}

// processLocks maps file identities to the handles sharing their lock.
var processLocks sync.Map // map[fileIdentity]*processLockEntry

type processLockEntry struct {
	// mu serializes lock calls and state updates for the file. It is never
	// held while waiting on another process.
	mu sync.Mutex

	// handles is guarded by mu. An entry with no handles is dead and is
	// removed from processLocks.
	handles map[*Handle]struct{}
}

// joinProcessLocks registers h under id and returns the shared entry.
// Callers must call leave when h is closed.
func joinProcessLocks(id fileIdentity, h *Handle) *processLockEntry {
	for {
		val, _ := processLocks.LoadOrStore(id, &processLockEntry{handles: make(map[*Handle]struct{})})

		entry, ok := val.(*processLockEntry)
		if !ok {
			processLocks.CompareAndDelete(id, val)

			continue
		}

		entry.mu.Lock()

		if entry.handles == nil {
			// Removed by a concurrent leave; try again with a fresh entry.
			entry.mu.Unlock()

			continue
		}

		// A newcomer sees whatever the process already holds.
		for other := range entry.handles {
			h.state.Store(other.state.Load())

			break
		}

		entry.handles[h] = struct{}{}
		entry.mu.Unlock()

		return entry
	}
}

// leave unregisters h. Must be called with e.mu held.
func (e *processLockEntry) leave(id fileIdentity, h *Handle) {
	delete(e.handles, h)

	if len(e.handles) == 0 {
		e.handles = nil
		processLocks.CompareAndDelete(id, e)
	}
}

// broadcast sets the lock state of every registered handle.
// Must be called with e.mu held.
func (e *processLockEntry) broadcast(s LockState) {
	for h := range e.handles {
		h.state.Store(int32(s))
	}
}

// siblings returns the number of registered handles. Must be called with
// e.mu held.
func (e *processLockEntry) siblings() int {
	return len(e.handles)
}
