package fs

import (
	"errors"
	iofs "io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection.
type ChaosConfig struct {
	// OpenFailRate controls how often FS.Open and FS.OpenFile fail.
	// Returns EACCES, EIO or EMFILE.
	OpenFailRate float64

	// WriteFailRate controls how often File.Write and File.WriteAt fail
	// entirely, writing zero bytes and returning EIO, ENOSPC or EROFS.
	WriteFailRate float64

	// SyncFailRate controls how often File.Sync fails. Returns EIO or ENOSPC.
	// The underlying Sync is not called when a failure is injected, so the
	// data is not durable.
	SyncFailRate float64

	// TruncateFailRate controls how often File.Truncate fails, returning EIO
	// or EROFS. The file length is left unchanged.
	TruncateFailRate float64

	// RemoveFailRate controls how often FS.Remove fails. Returns EACCES, EBUSY
	// or EIO.
	RemoveFailRate float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection.
	// This is the default mode for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation directly to the underlying FS.
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails     int64
	WriteFails    int64
	SyncFails     int64
	TruncateFails int64
	RemoveFails   int64
}

// chaosError marks an error as intentionally injected by [Chaos].
//
// It wraps an [*fs.PathError] carrying a real [syscall.Errno], so errors.Is
// and os.IsPermission keep working.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string {
	return "chaos: " + e.Err.Error()
}

func (e *chaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
// Returns false if err is nil.
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects random failures for testing.
//
// Every call independently decides whether to inject, using a seeded PRNG so
// runs are reproducible. Injected errors are real errno values wrapped so
// [IsChaosErr] can tell them apart from genuine OS failures.
//
// Chaos never injects into Fd: lock syscalls always see the real descriptor.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex
	rng   *rand.Rand

	openFails     atomic.Int64
	writeFails    atomic.Int64
	syncFails     atomic.Int64
	truncateFails atomic.Int64
	removeFails   atomic.Int64
}

// NewChaos creates a new Chaos filesystem wrapping fs.
// The seed controls random fault injection for reproducibility.
func NewChaos(fs FS, seed uint64, config ChaosConfig) *Chaos {
	return &Chaos{
		fs:     fs,
		config: config,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// SetMode updates Chaos behavior. Safe to call concurrently with operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		WriteFails:    c.writeFails.Load(),
		SyncFails:     c.syncFails.Load(),
		TruncateFails: c.truncateFails.Load(),
		RemoveFails:   c.removeFails.Load(),
	}
}

func (c *Chaos) should(rate float64) bool {
	if ChaosMode(c.mode.Load()) != ChaosModeActive || rate <= 0 {
		return false
	}

	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64() < rate
}

func (c *Chaos) pick(errs ...syscall.Errno) syscall.Errno {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return errs[c.rng.IntN(len(errs))]
}

func (c *Chaos) pathErr(op, path string, errs ...syscall.Errno) error {
	return &chaosError{Err: &iofs.PathError{Op: op, Path: path, Err: c.pick(errs...)}}
}

var _ FS = (*Chaos)(nil)

func (c *Chaos) Open(path string) (File, error) {
	return c.OpenFile(path, os.O_RDONLY, 0)
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, c.pathErr("open", path, syscall.EACCES, syscall.EIO, syscall.EMFILE)
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{c: c, f: f}, nil
}

func (c *Chaos) ReadFile(path string) ([]byte, error) { return c.fs.ReadFile(path) }

func (c *Chaos) Stat(path string) (os.FileInfo, error) { return c.fs.Stat(path) }

func (c *Chaos) Exists(path string) (bool, error) { return c.fs.Exists(path) }

func (c *Chaos) Remove(path string) error {
	if c.should(c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return c.pathErr("remove", path, syscall.EACCES, syscall.EBUSY, syscall.EIO)
	}

	return c.fs.Remove(path)
}

// --- chaosFile wraps a File and injects faults ---

type chaosFile struct {
	c *Chaos
	f File
}

var _ File = (*chaosFile)(nil)

func (cf *chaosFile) Read(p []byte) (int, error)              { return cf.f.Read(p) }
func (cf *chaosFile) ReadAt(p []byte, off int64) (int, error) { return cf.f.ReadAt(p, off) }
func (cf *chaosFile) Seek(off int64, whence int) (int64, error) {
	return cf.f.Seek(off, whence)
}
func (cf *chaosFile) Name() string               { return cf.f.Name() }
func (cf *chaosFile) Fd() uintptr                { return cf.f.Fd() }
func (cf *chaosFile) Stat() (os.FileInfo, error) { return cf.f.Stat() }
func (cf *chaosFile) Close() error               { return cf.f.Close() }

func (cf *chaosFile) Write(p []byte) (int, error) {
	if cf.c.should(cf.c.config.WriteFailRate) {
		cf.c.writeFails.Add(1)

		return 0, cf.c.pathErr("write", cf.f.Name(), syscall.EIO, syscall.ENOSPC, syscall.EROFS)
	}

	return cf.f.Write(p)
}

func (cf *chaosFile) WriteAt(p []byte, off int64) (int, error) {
	if cf.c.should(cf.c.config.WriteFailRate) {
		cf.c.writeFails.Add(1)

		return 0, cf.c.pathErr("write", cf.f.Name(), syscall.EIO, syscall.ENOSPC, syscall.EROFS)
	}

	return cf.f.WriteAt(p, off)
}

func (cf *chaosFile) Sync() error {
	if cf.c.should(cf.c.config.SyncFailRate) {
		cf.c.syncFails.Add(1)

		return cf.c.pathErr("sync", cf.f.Name(), syscall.EIO, syscall.ENOSPC)
	}

	return cf.f.Sync()
}

func (cf *chaosFile) Truncate(size int64) error {
	if cf.c.should(cf.c.config.TruncateFailRate) {
		cf.c.truncateFails.Add(1)

		return cf.c.pathErr("truncate", cf.f.Name(), syscall.EIO, syscall.EROFS)
	}

	return cf.f.Truncate(size)
}
