package dbfile

import (
	"fmt"

	"github.com/calvinalkan/dbfile/pkg/fs"
)

// SyncBackend makes a file's written contents durable.
type SyncBackend interface {
	Strategy() SyncStrategy
	Sync(f fs.File) error
}

// NativeSync returns the backend that calls [fs.File.Sync]
// (fsync / FlushFileBuffers).
func NativeSync() SyncBackend { return nativeSync{} }

type nativeSync struct{}

func (nativeSync) Strategy() SyncStrategy { return SyncNative }

func (nativeSync) Sync(f fs.File) error {
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSyncFailed, f.Name(), err)
	}

	return nil
}

// NewGlobalFlushSync returns the fallback backend. Each Sync calls flush
// twice and never reports an error; a nil flush makes every Sync fail with
// [ErrSyncUnsupported].
//
// The first flush may return before buffers reach the device; the second
// one is issued so the first has completed by the time it returns.
func NewGlobalFlushSync(flush func()) SyncBackend {
	return globalFlushSync{flush: flush}
}

type globalFlushSync struct {
	flush func()
}

func (globalFlushSync) Strategy() SyncStrategy { return SyncGlobalFlush }

func (g globalFlushSync) Sync(fs.File) error {
	if g.flush == nil {
		return ErrSyncUnsupported
	}

	g.flush()
	g.flush()

	return nil
}
