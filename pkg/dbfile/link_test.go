package dbfile_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

func Test_LinkTo_Creates_Second_Name_When_Destination_Is_Free(t *testing.T) {
	t.Parallel()

	if !dbfile.HostCapabilities().HardLink {
		t.Skip("hard links unsupported")
	}

	path := tempDB(t)
	h := openHandle(t, path, dbfile.Options{Backends: fakeBackends(&fakeLock{})})

	if _, err := h.WriteAt([]byte("shared inode"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	dst := filepath.Join(filepath.Dir(path), "copy.db")
	if err := h.LinkTo(dst); err != nil {
		t.Fatalf("LinkTo(%q): %v", dst, err)
	}

	if got := readFile(t, dst); got != "shared inode" {
		t.Fatalf("linked content=%q, want %q", got, "shared inode")
	}
}

func Test_CreateHardLink_Returns_ErrAlreadyExists_When_Destination_Exists(t *testing.T) {
	t.Parallel()

	if !dbfile.HostCapabilities().HardLink {
		t.Skip("hard links unsupported")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "a.db")
	dst := filepath.Join(dir, "b.db")

	for _, p := range []string{src, dst} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	err := dbfile.CreateHardLink(src, dst)
	if !errors.Is(err, dbfile.ErrAlreadyExists) {
		t.Fatalf("CreateHardLink: err=%v, want ErrAlreadyExists", err)
	}

	if errors.Is(err, dbfile.ErrCrossDevice) {
		t.Fatalf("CreateHardLink: err=%v must not match ErrCrossDevice", err)
	}

	var linkErr *dbfile.LinkError
	if !errors.As(err, &linkErr) || linkErr.Kind != dbfile.LinkAlreadyExists {
		t.Fatalf("CreateHardLink: err=%v, want *LinkError kind already-exists", err)
	}

	if got := readFile(t, dst); got != "b.db" {
		t.Fatalf("destination overwritten: content=%q", got)
	}
}

func Test_LinkError_Kinds_Are_Distinguishable_When_Matched_With_ErrorsIs(t *testing.T) {
	t.Parallel()

	sentinels := map[dbfile.LinkErrorKind]error{
		dbfile.LinkCrossDevice:      dbfile.ErrCrossDevice,
		dbfile.LinkAlreadyExists:    dbfile.ErrAlreadyExists,
		dbfile.LinkPermissionDenied: dbfile.ErrPermissionDenied,
		dbfile.LinkUnsupported:      dbfile.ErrLinkUnsupported,
	}

	for kind, want := range sentinels {
		err := fakeLink{kind: kind}.Link("a", "b")

		for other, sentinel := range sentinels {
			if got := errors.Is(err, sentinel); got != (other == kind) {
				t.Fatalf("errors.Is(%s error, %v)=%v", kind, sentinel, got)
			}
		}

		if !errors.Is(err, want) {
			t.Fatalf("errors.Is(%v, %v)=false", err, want)
		}

		if got := dbfile.Category(err); got != dbfile.CategoryReplace {
			t.Fatalf("Category(%s)=%s, want replace", kind, got)
		}
	}
}

func Test_UnsupportedLink_Returns_ErrLinkUnsupported_When_Called(t *testing.T) {
	t.Parallel()

	err := dbfile.UnsupportedLink().Link("a", "b")
	if !errors.Is(err, dbfile.ErrLinkUnsupported) || !errors.Is(err, errors.ErrUnsupported) {
		t.Fatalf("Link: err=%v, want ErrLinkUnsupported wrapping errors.ErrUnsupported", err)
	}
}
