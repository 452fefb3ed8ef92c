// Package dbfile is the platform file-primitive layer of an embedded
// database engine.
//
// It gives the engine one contract for whole-file locking, forced
// durability, truncation and hard links, whatever the host offers. The
// host's primitives are described by a [Capabilities] profile resolved once
// per process; [SelectBackends] turns a profile into concrete backends and a
// [Handle] drives them for one open file.
//
// # Locking
//
// A [Handle] holds at most one of [Unlocked], [Shared] or [Exclusive].
// Requests are single OS calls: a non-blocking request that meets a
// conflicting holder reports [WouldBlock] (error [ErrLockUnavailable]) and
// an OS refusal reports [Denied] (error [ErrLockDenied]). Waiting with a
// timeout lives in package lockwait.
//
// Three backends exist:
//
//   - whole-file, flock(2). Locks belong to the open file description, so
//     two handles opened separately in one process conflict. Not reliable
//     on network filesystems.
//   - byte-range, fcntl(2) record locks over the whole file. Locks belong to
//     the process: see [Handle.ProcessScopedLocks].
//   - mandatory, LockFileEx on Windows.
//
// # Durability
//
// [Handle.ForceSync] uses the native per-file flush when available. The
// fallback issues two global flushes; it is reported through
// [SyncStrategy.Degraded] because it cannot observe errors and is not
// scoped to the file.
package dbfile
