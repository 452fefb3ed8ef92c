package dbfile

import (
	"fmt"
	"strings"
	"sync"
)

// Capabilities describes which file primitives the host offers.
//
// The host profile is resolved once per process by [HostCapabilities] and
// never changes afterwards. Tests and tools may construct other profiles to
// force particular backends through [SelectBackends].
type Capabilities struct {
	WholeFileLock  bool `json:"whole_file_lock"`  // flock(2)
	ByteRangeLock  bool `json:"byte_range_lock"`  // fcntl(2) record locks
	MandatoryLock  bool `json:"mandatory_lock"`   // LockFileEx
	NativeSync     bool `json:"native_sync"`      // fsync / FlushFileBuffers
	NativeTruncate bool `json:"native_truncate"`  // ftruncate
	HardLink       bool `json:"hard_link"`        // link / CreateHardLink
}

var hostCaps = sync.OnceValue(hostCapabilities)

// HostCapabilities returns the capability profile of the running platform.
func HostCapabilities() Capabilities {
	return hostCaps()
}

func (c Capabilities) String() string {
	var on []string

	for _, f := range []struct {
		name string
		set  bool
	}{
		{"whole-file-lock", c.WholeFileLock},
		{"byte-range-lock", c.ByteRangeLock},
		{"mandatory-lock", c.MandatoryLock},
		{"native-sync", c.NativeSync},
		{"native-truncate", c.NativeTruncate},
		{"hard-link", c.HardLink},
	} {
		if f.set {
			on = append(on, f.name)
		}
	}

	if len(on) == 0 {
		return "none"
	}

	return strings.Join(on, ",")
}

// LockStrategy names a lock backend.
type LockStrategy int

const (
	// LockAuto picks mandatory, then whole-file, then byte-range, whichever
	// the profile offers first.
	LockAuto LockStrategy = iota
	LockWholeFile
	LockByteRange
	LockMandatory
)

func (s LockStrategy) String() string {
	switch s {
	case LockAuto:
		return "auto"
	case LockWholeFile:
		return "whole-file"
	case LockByteRange:
		return "byte-range"
	case LockMandatory:
		return "mandatory"
	default:
		return fmt.Sprintf("LockStrategy(%d)", int(s))
	}
}

// ParseLockStrategy parses the names produced by [LockStrategy.String].
// The empty string is [LockAuto].
func ParseLockStrategy(s string) (LockStrategy, error) {
	switch s {
	case "", "auto":
		return LockAuto, nil
	case "whole-file":
		return LockWholeFile, nil
	case "byte-range":
		return LockByteRange, nil
	case "mandatory":
		return LockMandatory, nil
	default:
		return LockAuto, fmt.Errorf("unknown lock strategy %q (want auto, whole-file, byte-range or mandatory)", s)
	}
}

// SyncStrategy names a durability backend.
type SyncStrategy int

const (
	// SyncAuto uses native sync when available, else the global flush.
	SyncAuto SyncStrategy = iota
	SyncNative
	// SyncGlobalFlush issues two system-wide flushes. It is not scoped to
	// the file and reports no errors.
	SyncGlobalFlush
)

func (s SyncStrategy) String() string {
	switch s {
	case SyncAuto:
		return "auto"
	case SyncNative:
		return "native"
	case SyncGlobalFlush:
		return "global-flush"
	default:
		return fmt.Sprintf("SyncStrategy(%d)", int(s))
	}
}

// Degraded reports whether s gives weaker guarantees than a native,
// file-scoped, error-reporting flush.
func (s SyncStrategy) Degraded() bool {
	return s == SyncGlobalFlush
}

// ParseSyncStrategy parses the names produced by [SyncStrategy.String].
func ParseSyncStrategy(s string) (SyncStrategy, error) {
	switch s {
	case "", "auto":
		return SyncAuto, nil
	case "native":
		return SyncNative, nil
	case "global-flush":
		return SyncGlobalFlush, nil
	default:
		return SyncAuto, fmt.Errorf("unknown sync strategy %q (want auto, native or global-flush)", s)
	}
}

// TruncateStrategy names a truncation backend.
type TruncateStrategy int

const (
	TruncateAuto TruncateStrategy = iota
	TruncateNative
	// TruncateSeekEOF seeks to offset 0 and marks end-of-file there.
	TruncateSeekEOF
)

func (s TruncateStrategy) String() string {
	switch s {
	case TruncateAuto:
		return "auto"
	case TruncateNative:
		return "native"
	case TruncateSeekEOF:
		return "seek-eof"
	default:
		return fmt.Sprintf("TruncateStrategy(%d)", int(s))
	}
}

// ParseTruncateStrategy parses the names produced by [TruncateStrategy.String].
func ParseTruncateStrategy(s string) (TruncateStrategy, error) {
	switch s {
	case "", "auto":
		return TruncateAuto, nil
	case "native":
		return TruncateNative, nil
	case "seek-eof":
		return TruncateSeekEOF, nil
	default:
		return TruncateAuto, fmt.Errorf("unknown truncate strategy %q (want auto, native or seek-eof)", s)
	}
}
