package dbfile

import (
	"fmt"
	"io"

	"github.com/calvinalkan/dbfile/pkg/fs"
)

// TruncateBackend resets a file to zero length.
//
// Backends leave the file offset at 0 on success. They never touch lock
// state.
type TruncateBackend interface {
	Strategy() TruncateStrategy
	TruncateToEmpty(f fs.File) error
}

// NativeTruncate returns the backend that calls [fs.File.Truncate] with 0.
func NativeTruncate() TruncateBackend { return nativeTruncate{} }

type nativeTruncate struct{}

func (nativeTruncate) Strategy() TruncateStrategy { return TruncateNative }

func (nativeTruncate) TruncateToEmpty(f fs.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTruncateFailed, f.Name(), err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %s: seek: %w", ErrTruncateFailed, f.Name(), err)
	}

	return nil
}

// SeekEOFTruncate returns the fallback backend: seek to offset 0, then mark
// end-of-file at the current offset.
func SeekEOFTruncate() TruncateBackend { return seekEOFTruncate{} }

type seekEOFTruncate struct{}

func (seekEOFTruncate) Strategy() TruncateStrategy { return TruncateSeekEOF }

func (seekEOFTruncate) TruncateToEmpty(f fs.File) error {
	off, err := f.Seek(0, io.SeekStart)
	if err != nil {
		return fmt.Errorf("%w: %s: seek: %w", ErrTruncateFailed, f.Name(), err)
	}

	if err := setEndOfFile(f, off); err != nil {
		return fmt.Errorf("%w: %s: set end of file: %w", ErrTruncateFailed, f.Name(), err)
	}

	return nil
}
