package tdb

import (
	"os"
	"path/filepath"
	"testing"
)

// testutil_test.go centralizes the temp-file fixture every file-backed
// test needs, the same role the teacher's tests/Shared.go package-level
// helpers play, adapted from a shared mutable global to a per-test
// constructor since this engine's tests don't share one on-disk
// instance across the whole suite the way the teacher's do.
func newTestFileAllocator(t *testing.T) (fa *FileAllocator, topRef Ref, cleanup func()) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "tdb-test.db")

	fa, topRef, err := OpenFile(path, int64(DefaultPageSize)*16)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	return fa, topRef, func() {
		if err := fa.Close(); err != nil {
			t.Errorf("FileAllocator.Close: %v", err)
		}
		os.RemoveAll(dir)
	}
}
