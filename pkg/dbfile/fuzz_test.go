package dbfile_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

// opStream derives handle operations from fuzz input. Exhausted input ends
// the sequence.
type opStream struct {
	data []byte
	pos  int
}

func (s *opStream) next() (byte, bool) {
	if s.pos >= len(s.data) {
		return 0, false
	}

	b := s.data[s.pos]
	s.pos++

	return b, true
}

type lockOp struct {
	handle int
	mode   dbfile.LockState // Unlocked means Unlock
}

func (op lockOp) String() string {
	if op.mode == dbfile.Unlocked {
		return fmt.Sprintf("h%d.Unlock", op.handle)
	}

	return fmt.Sprintf("h%d.TryLock(%s)", op.handle, op.mode)
}

func (s *opStream) nextOp(handles int) (lockOp, bool) {
	b, ok := s.next()
	if !ok {
		return lockOp{}, false
	}

	return lockOp{handle: int(b>>2) % handles, mode: dbfile.LockState(b % 3)}, true
}

// conflicts reports whether mode can not be granted while others are held.
func conflicts(mode dbfile.LockState, self int, states []dbfile.LockState) bool {
	for i, s := range states {
		if i == self || s == dbfile.Unlocked {
			continue
		}

		if mode == dbfile.Exclusive || s == dbfile.Exclusive {
			return true
		}
	}

	return false
}

// -----------------------------------------------------------------------------
// FuzzLock_WholeFileMatchesModel
//
// Property: with whole-file locks, every handle is an independent lock owner.
// TryLock succeeds exactly when no other handle holds a conflicting mode, and
// a failed mode change leaves the handle unlocked.
// -----------------------------------------------------------------------------

func FuzzLock_WholeFileMatchesModel(f *testing.F) {
	f.Add([]byte{0x01, 0x05, 0x02})
	f.Add([]byte{0x02, 0x05, 0x00, 0x05})
	f.Add([]byte{0x01, 0x02, 0x01, 0x00})
	f.Add([]byte{0x09, 0x0a, 0x06, 0x04, 0x01})

	f.Fuzz(func(t *testing.T, data []byte) {
		requireFileLocks(t)

		if len(data) > 64 {
			data = data[:64]
		}

		const handles = 3

		path := tempDB(t)

		hs := make([]*dbfile.Handle, handles)
		for i := range hs {
			hs[i] = openHandle(t, path, optsFor(dbfile.LockWholeFile))
		}

		model := make([]dbfile.LockState, handles)
		stream := &opStream{data: data}

		for step := 0; ; step++ {
			op, ok := stream.nextOp(handles)
			if !ok {
				break
			}

			h := hs[op.handle]

			if op.mode == dbfile.Unlocked {
				if err := h.Unlock(); err != nil {
					t.Fatalf("step %d %s: %v", step, op, err)
				}

				model[op.handle] = dbfile.Unlocked
			} else {
				err := h.TryLock(op.mode)
				wantErr := model[op.handle] != op.mode && conflicts(op.mode, op.handle, model)

				switch {
				case wantErr && !errors.Is(err, dbfile.ErrLockUnavailable):
					t.Fatalf("step %d %s: err=%v, want ErrLockUnavailable", step, op, err)
				case !wantErr && err != nil:
					t.Fatalf("step %d %s: unexpected err=%v", step, op, err)
				}

				if wantErr {
					model[op.handle] = dbfile.Unlocked
				} else {
					model[op.handle] = op.mode
				}
			}

			for i, want := range model {
				if got := hs[i].State(); got != want {
					t.Fatalf("step %d %s: h%d.State()=%s, want %s", step, op, i, got, want)
				}
			}
		}
	})
}

// -----------------------------------------------------------------------------
// FuzzLock_ByteRangeSiblingsShareState
//
// Property: with byte-range locks, all handles of one process share a single
// lock. Every request succeeds and every handle reports the same state.
// -----------------------------------------------------------------------------

func FuzzLock_ByteRangeSiblingsShareState(f *testing.F) {
	f.Add([]byte{0x01, 0x06, 0x00})
	f.Add([]byte{0x02, 0x05, 0x08, 0x04})

	f.Fuzz(func(t *testing.T, data []byte) {
		if !dbfile.HostCapabilities().ByteRangeLock {
			t.Skip("requires byte-range locks")
		}

		if len(data) > 64 {
			data = data[:64]
		}

		const handles = 3

		path := tempDB(t)

		hs := make([]*dbfile.Handle, handles)
		for i := range hs {
			hs[i] = openHandle(t, path, optsFor(dbfile.LockByteRange))
		}

		want := dbfile.Unlocked
		stream := &opStream{data: data}

		for step := 0; ; step++ {
			op, ok := stream.nextOp(handles)
			if !ok {
				break
			}

			var err error
			if op.mode == dbfile.Unlocked {
				err = hs[op.handle].Unlock()
			} else {
				err = hs[op.handle].TryLock(op.mode)
			}

			if err != nil {
				t.Fatalf("step %d %s: %v", step, op, err)
			}

			want = op.mode

			for i, h := range hs {
				if got := h.State(); got != want {
					t.Fatalf("step %d %s: h%d.State()=%s, want %s", step, op, i, got, want)
				}
			}
		}
	})
}
