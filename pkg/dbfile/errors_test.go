package dbfile_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/calvinalkan/dbfile/pkg/dbfile"
)

func Test_Category_Maps_Wrapped_Errors_To_User_Messages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want dbfile.ErrorCategory
		msg  string
	}{
		{nil, dbfile.CategoryNone, ""},
		{fmt.Errorf("open db: %w", dbfile.ErrLockUnavailable), dbfile.CategoryBusy, "database busy"},
		{dbfile.ErrLockLost, dbfile.CategoryBusy, "database busy"},
		{dbfile.ErrTruncateFailed, dbfile.CategoryPersist, "could not persist"},
		{&dbfile.LinkError{Kind: dbfile.LinkOther, Err: errors.New("eio")}, dbfile.CategoryReplace, "could not replace database file"},
		{dbfile.ErrClosed, dbfile.CategoryOther, "database error"},
	}

	for _, tc := range tests {
		got := dbfile.Category(tc.err)
		if got != tc.want || got.Message() != tc.msg {
			t.Errorf("Category(%v)=%s %q, want %s %q", tc.err, got, got.Message(), tc.want, tc.msg)
		}
	}
}
