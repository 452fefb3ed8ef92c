package fs

import (
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Chaos_Sync_Returns_Injected_Error_When_Rate_Is_One(t *testing.T) {
	t.Parallel()

	c := NewChaos(NewReal(), 1, ChaosConfig{SyncFailRate: 1})
	path := filepath.Join(t.TempDir(), "data.db")

	f, err := c.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	err = f.Sync()
	require.Error(t, err)
	require.True(t, IsChaosErr(err), "err=%v, want injected", err)

	var errno syscall.Errno
	require.True(t, errors.As(err, &errno), "err=%v, want errno", err)
	require.EqualValues(t, 1, c.Stats().SyncFails)
}

func Test_Chaos_Truncate_Leaves_Length_Unchanged_When_Failure_Injected(t *testing.T) {
	t.Parallel()

	c := NewChaos(NewReal(), 7, ChaosConfig{TruncateFailRate: 1})
	path := filepath.Join(t.TempDir(), "data.db")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	f, err := c.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	require.Error(t, f.Truncate(0))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, len("content"), info.Size())
}

func Test_Chaos_Remove_Leaves_File_When_Failure_Injected(t *testing.T) {
	t.Parallel()

	c := NewChaos(NewReal(), 5, ChaosConfig{RemoveFailRate: 1})
	path := filepath.Join(t.TempDir(), "data.db")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	err := c.Remove(path)
	require.Error(t, err)
	require.True(t, IsChaosErr(err), "err=%v, want injected", err)

	var pathErr *iofs.PathError
	require.True(t, errors.As(err, &pathErr), "err=%v, want *fs.PathError", err)
	require.Equal(t, "remove", pathErr.Op)

	_, err = os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 1, c.Stats().RemoveFails)

	c.SetMode(ChaosModeNoOp)
	require.NoError(t, c.Remove(path))
}

func Test_Chaos_Passes_Through_When_Mode_Is_NoOp(t *testing.T) {
	t.Parallel()

	c := NewChaos(NewReal(), 3, ChaosConfig{
		OpenFailRate:     1,
		WriteFailRate:    1,
		SyncFailRate:     1,
		TruncateFailRate: 1,
	})
	c.SetMode(ChaosModeNoOp)

	path := filepath.Join(t.TempDir(), "data.db")

	f, err := c.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Truncate(0))
	require.Equal(t, ChaosStats{}, c.Stats())
}

func Test_IsChaosErr_Returns_False_When_Error_Is_Real(t *testing.T) {
	t.Parallel()

	_, err := NewReal().Open(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	require.False(t, IsChaosErr(err))
	require.False(t, IsChaosErr(nil))
}
