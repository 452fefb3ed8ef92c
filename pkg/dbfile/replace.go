package dbfile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	atomicfile "github.com/natefinch/atomic"

	"github.com/calvinalkan/dbfile/pkg/fs"
)

// ErrReplaceFailed wraps every [ReplaceFile] failure.
var ErrReplaceFailed = errors.New("dbfile: replace failed")

// ErrDirSync indicates the parent directory could not be synced after the
// new name was linked in. The file is in place but the name may not survive
// a crash.
var ErrDirSync = errors.New("dbfile: dir sync")

// ExistingPolicy decides what [ReplaceFile] does when path already exists.
type ExistingPolicy int

const (
	// ExistingFail returns the [ErrAlreadyExists] link error.
	ExistingFail ExistingPolicy = iota
	// ExistingUnlink removes the existing file and links once more.
	ExistingUnlink
)

func (p ExistingPolicy) String() string {
	if p == ExistingUnlink {
		return "unlink"
	}

	return "fail"
}

// ParseExistingPolicy parses "fail" (or "") and "unlink".
func ParseExistingPolicy(s string) (ExistingPolicy, error) {
	switch s {
	case "", "fail":
		return ExistingFail, nil
	case "unlink":
		return ExistingUnlink, nil
	default:
		return ExistingFail, fmt.Errorf("unknown existing-file policy %q (want fail or unlink)", s)
	}
}

// ReplaceOptions configures [ReplaceFile].
type ReplaceOptions struct {
	// FS creates the temp file and syncs the directory. Defaults to
	// [fs.NewReal]. The copy fallback always writes to the OS directly.
	FS fs.FS

	// Backends overrides host backend selection.
	Backends *Backends

	OnExists ExistingPolicy

	// Perm is the mode of the new file. Defaults to 0o644.
	Perm os.FileMode

	Logger *slog.Logger
}

// ReplaceResult describes how [ReplaceFile] put the file in place.
type ReplaceResult struct {
	SyncStrategy SyncStrategy
	// Unlinked is set when an existing file was removed first.
	Unlinked bool
	// CopyFallback is set when hard links were unavailable and the contents
	// were copied with a temp-file rename instead.
	CopyFallback bool
}

// ReplaceFile durably publishes the contents of r under path.
//
// The data is written to a unique temp file next to path and synced, then
// hard-linked to path, so path either does not exist or has the complete
// contents. The temp name is removed and the directory synced afterwards.
// If linking is unsupported or crosses devices the contents are copied with
// an atomic rename instead.
func ReplaceFile(path string, r io.Reader, opts ReplaceOptions) (ReplaceResult, error) {
	var res ReplaceResult

	if r == nil {
		panic("reader is nil")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." || base == string(os.PathSeparator) {
		return res, fmt.Errorf("%w: invalid path %q", ErrReplaceFailed, path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	perm := opts.Perm
	if perm == 0 {
		perm = 0o644
	}

	hopts := Options{FS: fsys, Backends: opts.Backends, Logger: opts.Logger}

	b, err := hopts.backends()
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrReplaceFailed, err)
	}

	hopts.Backends = &b
	log := hopts.logger().With("path", path)

	tmp, tmpPath, err := createTempFile(fsys, dir, base, perm)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrReplaceFailed, err)
	}

	h, err := NewHandle(tmp, hopts)
	if err != nil {
		return res, errors.Join(fmt.Errorf("%w: %w", ErrReplaceFailed, err), tmp.Close(), fsys.Remove(tmpPath))
	}

	cleanup := func() error {
		closeErr := h.Close()

		removeErr := fsys.Remove(tmpPath)
		if removeErr != nil && os.IsNotExist(removeErr) {
			removeErr = nil
		}

		return errors.Join(closeErr, removeErr)
	}

	fail := func(err error) (ReplaceResult, error) {
		return res, errors.Join(fmt.Errorf("%w: %s: %w", ErrReplaceFailed, path, err), cleanup())
	}

	if _, err := io.Copy(tmp, r); err != nil {
		return fail(fmt.Errorf("write temp file %q: %w", tmpPath, err))
	}

	res.SyncStrategy, err = h.ForceSync()
	if err != nil {
		return fail(err)
	}

	linkErr := b.Link.Link(tmpPath, path)
	if errors.Is(linkErr, ErrAlreadyExists) && opts.OnExists == ExistingUnlink {
		if err := fsys.Remove(path); err != nil && !os.IsNotExist(err) {
			return fail(fmt.Errorf("remove existing: %w", err))
		}

		res.Unlinked = true
		log.Debug("replaced existing file")

		linkErr = b.Link.Link(tmpPath, path)
	}

	if errors.Is(linkErr, ErrCrossDevice) || errors.Is(linkErr, ErrLinkUnsupported) {
		log.Info("hard link unavailable, copying", "err", linkErr)

		if err := copyInto(fsys, h.File(), path, perm, opts.OnExists, &res); err != nil {
			return fail(err)
		}

		linkErr = nil
	}

	if linkErr != nil {
		return fail(linkErr)
	}

	cleanupErr := cleanup()

	if err := fsyncDir(fsys, dir); err != nil {
		return res, errors.Join(fmt.Errorf("%w: %s: %w", ErrReplaceFailed, path, err), cleanupErr)
	}

	// The data is published; a leftover temp name is not worth failing for.
	if cleanupErr != nil {
		log.Warn("temp file cleanup failed", "tmp", tmpPath, "err", cleanupErr)
	}

	return res, nil
}

// copyInto writes src's contents to path with a temp-file rename.
func copyInto(fsys fs.FS, src fs.File, path string, perm os.FileMode, policy ExistingPolicy, res *ReplaceResult) error {
	exists, err := fsys.Exists(path)
	if err != nil {
		return fmt.Errorf("stat destination: %w", err)
	}

	if exists {
		if policy != ExistingUnlink {
			return &LinkError{Kind: LinkAlreadyExists, Old: src.Name(), New: path, Err: os.ErrExist}
		}

		res.Unlinked = true
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp file: %w", err)
	}

	if err := atomicfile.WriteFile(path, src); err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("chmod %q: %w", path, err)
	}

	res.CopyFallback = true

	return nil
}

const tempFileMaxAttempts = 10000

var tempFileCounter atomic.Uint64

func createTempFile(fsys fs.FS, dir, base string, perm os.FileMode) (fs.File, string, error) {
	for range tempFileMaxAttempts {
		seq := tempFileCounter.Add(1)
		path := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", base, os.Getpid(), seq))

		file, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return file, path, nil
		}

		if os.IsExist(err) {
			continue
		}

		return nil, "", fmt.Errorf("create temp file: %w", err)
	}

	return nil, "", fmt.Errorf("exhausted temp file attempts in %q", dir)
}

func fsyncDir(fsys fs.FS, dir string) error {
	if runtime.GOOS == "windows" {
		// Directory handles cannot be flushed.
		return nil
	}

	d, err := fsys.Open(dir)
	if err != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("open dir %q: %w", dir, err))
	}

	syncErr := d.Sync()
	closeErr := d.Close()

	if syncErr != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("%q: %w", dir, syncErr), closeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close dir %q: %w", dir, closeErr)
	}

	return nil
}
