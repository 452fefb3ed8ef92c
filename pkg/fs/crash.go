package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrCrashFS marks errors originating from crashfs internals.
//
// Use [errors.Is] with this sentinel to detect crashfs-generated errors.
var ErrCrashFS = errors.New("crashfs")

type crashFSError struct {
	op  string
	err error
}

func (e *crashFSError) Error() string {
	return fmt.Sprintf("crashfs: %s: %v", e.op, e.err)
}

func (e *crashFSError) Unwrap() error { return e.err }

func (*crashFSError) Is(target error) bool { return target == ErrCrashFS }

// CrashFSErr wraps a crashfs-internal error with a consistent prefix.
//
// op must be a static, verb-first description of the action being attempted
// (for example, "snapshot file"). It panics if err is nil.
func CrashFSErr(op string, err error) error {
	if err == nil {
		panic(fmt.Sprintf("crashfs: internal error: nil error for %q", op))
	}

	return &crashFSError{op: op, err: err}
}

// Crash is a test-only filesystem wrapper that simulates crash consistency
// for file contents.
//
// Crash runs operations against the real files (so returned [File] values
// have real OS file descriptors and can be locked), while tracking an
// in-memory durable snapshot of every file it has opened.
//
// Durability model (strict, pessimistic):
//   - A file that already existed when Crash first saw it starts out durable
//     with its on-disk contents.
//   - File contents become durable only when [File.Sync] succeeds on a handle
//     returned by Crash, or when [Crash.SyncAll] is called.
//   - [Crash.Remove] is durable as soon as it succeeds.
//
// Snapshots are read through the descriptor being synced. Crash never opens a
// second descriptor on a file it already has open, so process-scoped (fcntl)
// locks held through its handles survive Sync.
//
// Calling [Crash.SimulateCrash] closes every open handle (dropping any locks
// held through them) and rewrites each tracked file to its durable snapshot.
// Files that were never made durable are removed.
//
// Crash is not meant for production use.
type Crash struct {
	fs FS

	mu      sync.Mutex
	open    map[*crashFile]struct{}
	tracked map[string]struct{}
	durable map[string]fileSnapshot
}

type fileSnapshot struct {
	data []byte
	perm os.FileMode
}

// NewCrash creates a new crash-simulating filesystem wrapping fs.
//
// fs should be OS-backed. In practice this should be [NewReal].
func NewCrash(fs FS) (*Crash, error) {
	if fs == nil {
		return nil, errors.New("crashfs: fs is nil")
	}

	return &Crash{
		fs:      fs,
		open:    make(map[*crashFile]struct{}),
		tracked: make(map[string]struct{}),
		durable: make(map[string]fileSnapshot),
	}, nil
}

var _ FS = (*Crash)(nil)

// Open implements [FS.Open].
func (c *Crash) Open(path string) (File, error) {
	return c.OpenFile(path, os.O_RDONLY, 0)
}

// OpenFile implements [FS.OpenFile].
func (c *Crash) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, CrashFSErr("resolve path", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	baselineFromFD, err := c.trackLocked(abs, flag)
	if err != nil {
		return nil, err
	}

	f, err := c.fs.OpenFile(abs, flag, perm)
	if err != nil {
		if baselineFromFD {
			delete(c.tracked, abs)
		}

		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, err
	}

	if baselineFromFD {
		snap, err := snapshot(f)
		if err != nil {
			delete(c.tracked, abs)
			_ = f.Close()

			return nil, CrashFSErr("read baseline", err)
		}

		c.durable[abs] = snap
	}

	cf := &crashFile{c: c, f: f, abs: abs, isDir: info.IsDir()}
	c.open[cf] = struct{}{}

	return cf, nil
}

// ReadFile implements [FS.ReadFile]. It reads the live (possibly unsynced)
// contents.
func (c *Crash) ReadFile(path string) ([]byte, error) {
	return c.fs.ReadFile(path)
}

// Stat implements [FS.Stat].
func (c *Crash) Stat(path string) (os.FileInfo, error) {
	return c.fs.Stat(path)
}

// Exists implements [FS.Exists].
func (c *Crash) Exists(path string) (bool, error) {
	return c.fs.Exists(path)
}

// Remove implements [FS.Remove].
func (c *Crash) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return CrashFSErr("resolve path", err)
	}

	if err := c.fs.Remove(abs); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.durable, abs)
	c.mu.Unlock()

	return nil
}

// SyncAll snapshots every open file at once. It models a system-wide flush
// of buffered filesystem state.
func (c *Crash) SyncAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	for cf := range c.open {
		if cf.isDir {
			continue
		}

		snap, err := snapshot(cf.f)
		if err != nil {
			errs = append(errs, CrashFSErr("snapshot file", fmt.Errorf("path %q: %w", cf.abs, err)))

			continue
		}

		c.durable[cf.abs] = snap
	}

	return errors.Join(errs...)
}

// DurableContents returns the durable snapshot for path and whether one
// exists.
func (c *Crash) DurableContents(path string) ([]byte, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.durable[abs]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), snap.data...), true
}

// SimulateCrash simulates a crash/power loss.
//
// It closes all open files and restores every tracked file to its durable
// snapshot. Handles obtained before the crash must not be used afterwards.
func (c *Crash) SimulateCrash() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	for cf := range c.open {
		if err := cf.closeUnderlying(); err != nil {
			errs = append(errs, CrashFSErr("close file", err))
		}

		delete(c.open, cf)
	}

	for abs := range c.tracked {
		snap, ok := c.durable[abs]
		if !ok {
			err := os.Remove(abs)
			if err != nil && !os.IsNotExist(err) {
				errs = append(errs, CrashFSErr("remove undurable file", err))
			}

			continue
		}

		if err := os.WriteFile(abs, snap.data, snap.perm); err != nil {
			errs = append(errs, CrashFSErr("restore file", err))
		}
	}

	return errors.Join(errs...)
}

// trackLocked records abs and, the first time it is seen, captures its
// current on-disk contents as durable.
//
// It reports true when the baseline is to be read from the descriptor
// OpenFile is about to return. Only write-only and truncating opens read it by
// path, before any descriptor of theirs exists.
func (c *Crash) trackLocked(abs string, flag int) (bool, error) {
	if _, ok := c.tracked[abs]; ok {
		return false, nil
	}

	c.tracked[abs] = struct{}{}

	info, err := c.fs.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, CrashFSErr("stat file", err)
	}

	if info.IsDir() {
		delete(c.tracked, abs)

		return false, nil
	}

	writeOnly := flag&(os.O_WRONLY|os.O_RDWR) == os.O_WRONLY
	if !writeOnly && flag&os.O_TRUNC == 0 {
		return true, nil
	}

	data, err := c.fs.ReadFile(abs)
	if err != nil {
		return false, CrashFSErr("read baseline", err)
	}

	c.durable[abs] = fileSnapshot{data: data, perm: info.Mode().Perm()}

	return false, nil
}

// snapshot reads the whole file through f.
func snapshot(f File) (fileSnapshot, error) {
	info, err := f.Stat()
	if err != nil {
		return fileSnapshot{}, err
	}

	data := make([]byte, info.Size())

	n, err := f.ReadAt(data, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return fileSnapshot{}, err
	}

	return fileSnapshot{data: data[:n], perm: info.Mode().Perm()}, nil
}

type crashFile struct {
	c     *Crash
	f     File
	abs   string
	isDir bool

	closeOnce sync.Once
	closeErr  error
}

var _ File = (*crashFile)(nil)

func (cf *crashFile) Read(p []byte) (int, error)               { return cf.f.Read(p) }
func (cf *crashFile) Write(p []byte) (int, error)              { return cf.f.Write(p) }
func (cf *crashFile) ReadAt(p []byte, off int64) (int, error)  { return cf.f.ReadAt(p, off) }
func (cf *crashFile) WriteAt(p []byte, off int64) (int, error) { return cf.f.WriteAt(p, off) }
func (cf *crashFile) Seek(off int64, whence int) (int64, error) {
	return cf.f.Seek(off, whence)
}
func (cf *crashFile) Name() string               { return cf.f.Name() }
func (cf *crashFile) Fd() uintptr                { return cf.f.Fd() }
func (cf *crashFile) Stat() (os.FileInfo, error) { return cf.f.Stat() }
func (cf *crashFile) Truncate(size int64) error  { return cf.f.Truncate(size) }

// Sync records durability after the underlying file Sync succeeds.
// Directory syncs pass through; namespace changes are already durable.
func (cf *crashFile) Sync() error {
	if err := cf.f.Sync(); err != nil {
		return err
	}

	if cf.isDir {
		return nil
	}

	snap, err := snapshot(cf.f)
	if err != nil {
		return CrashFSErr("snapshot file", fmt.Errorf("path %q: %w", cf.abs, err))
	}

	cf.c.mu.Lock()
	defer cf.c.mu.Unlock()

	if _, ok := cf.c.open[cf]; !ok {
		// Handle from before a crash.
		return nil
	}

	cf.c.durable[cf.abs] = snap

	return nil
}

func (cf *crashFile) Close() error {
	cf.c.mu.Lock()
	delete(cf.c.open, cf)
	cf.c.mu.Unlock()

	return cf.closeUnderlying()
}

func (cf *crashFile) closeUnderlying() error {
	cf.closeOnce.Do(func() {
		cf.closeErr = cf.f.Close()
	})

	return cf.closeErr
}
