package dbfile_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

func Test_HostCapabilities_Matches_Platform_When_Resolved(t *testing.T) {
	t.Parallel()

	var want dbfile.Capabilities

	switch runtime.GOOS {
	case "linux", "darwin", "freebsd", "netbsd", "openbsd", "dragonfly":
		want = dbfile.Capabilities{
			WholeFileLock: true, ByteRangeLock: true,
			NativeSync: true, NativeTruncate: true, HardLink: true,
		}
	case "windows":
		want = dbfile.Capabilities{MandatoryLock: true, NativeSync: true, HardLink: true}
	default:
		want = dbfile.Capabilities{NativeSync: true, NativeTruncate: true}
	}

	got := dbfile.HostCapabilities()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("HostCapabilities() mismatch (-want +got):\n%s", diff)
	}

	if again := dbfile.HostCapabilities(); again != got {
		t.Fatalf("HostCapabilities() changed between calls: %s then %s", got, again)
	}
}

type selected struct {
	Lock     dbfile.LockStrategy
	Sync     dbfile.SyncStrategy
	Truncate dbfile.TruncateStrategy
}

func Test_SelectBackends_Picks_By_Priority_When_Strategy_Is_Auto(t *testing.T) {
	t.Parallel()

	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" && runtime.GOOS != "freebsd" {
		t.Skip("needs flock and fcntl backends compiled in")
	}

	tests := []struct {
		name string
		caps dbfile.Capabilities
		sel  dbfile.Selection
		want selected
	}{
		{
			name: "posix profile",
			caps: dbfile.HostCapabilities(),
			want: selected{dbfile.LockWholeFile, dbfile.SyncNative, dbfile.TruncateNative},
		},
		{
			name: "byte range only, no native sync or truncate",
			caps: dbfile.Capabilities{ByteRangeLock: true},
			want: selected{dbfile.LockByteRange, dbfile.SyncGlobalFlush, dbfile.TruncateSeekEOF},
		},
		{
			name: "forced fallbacks",
			caps: dbfile.HostCapabilities(),
			sel: dbfile.Selection{
				Lock: dbfile.LockByteRange, Sync: dbfile.SyncGlobalFlush, Truncate: dbfile.TruncateSeekEOF,
			},
			want: selected{dbfile.LockByteRange, dbfile.SyncGlobalFlush, dbfile.TruncateSeekEOF},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b, err := dbfile.SelectBackends(tc.caps, tc.sel)
			if err != nil {
				t.Fatalf("SelectBackends: %v", err)
			}

			got := selected{b.Lock.Strategy(), b.Sync.Strategy(), b.Truncate.Strategy()}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("selection mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func Test_SelectBackends_Returns_ErrStrategyUnsupported_When_Profile_Lacks_Primitive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		caps dbfile.Capabilities
		sel  dbfile.Selection
	}{
		{name: "no lock at all", caps: dbfile.Capabilities{NativeSync: true}},
		{name: "mandatory on posix profile", caps: dbfile.Capabilities{WholeFileLock: true}, sel: dbfile.Selection{Lock: dbfile.LockMandatory}},
		{name: "native sync missing", caps: dbfile.Capabilities{WholeFileLock: true}, sel: dbfile.Selection{Sync: dbfile.SyncNative}},
		{name: "native truncate missing", caps: dbfile.Capabilities{WholeFileLock: true}, sel: dbfile.Selection{Truncate: dbfile.TruncateNative}},
	}

	for _, tc := range tests {
		_, err := dbfile.SelectBackends(tc.caps, tc.sel)
		if !errors.Is(err, dbfile.ErrStrategyUnsupported) {
			t.Errorf("%s: SelectBackends err=%v, want ErrStrategyUnsupported", tc.name, err)
		}
	}
}

func Test_SelectBackends_Uses_UnsupportedLink_When_Profile_Has_No_HardLink(t *testing.T) {
	t.Parallel()

	caps := dbfile.HostCapabilities()
	caps.HardLink = false

	b, err := dbfile.SelectBackends(caps, dbfile.Selection{})
	if err != nil {
		t.Skipf("no lock backend on this platform: %v", err)
	}

	if err := b.Link.Link("a", "b"); !errors.Is(err, dbfile.ErrLinkUnsupported) {
		t.Fatalf("Link: err=%v, want ErrLinkUnsupported", err)
	}
}

func Test_ParseLockStrategy_Rejects_Unknown_Name(t *testing.T) {
	t.Parallel()

	for _, s := range []dbfile.LockStrategy{dbfile.LockAuto, dbfile.LockWholeFile, dbfile.LockByteRange, dbfile.LockMandatory} {
		got, err := dbfile.ParseLockStrategy(s.String())
		if err != nil || got != s {
			t.Fatalf("ParseLockStrategy(%q)=%s,%v want %s", s.String(), got, err, s)
		}
	}

	if _, err := dbfile.ParseLockStrategy("posix"); err == nil {
		t.Fatal("ParseLockStrategy(\"posix\"): want error")
	}
}
