/* SPDX-License-Identifier: BSD-2-Clause */

package backingfile

import (
	"os"
	"testing"

	"github.com/fc-tools/uffd-handler/internal/region"
)

func TestOpenRejectsMissingFile(t *testing.T) {
	if _, err := Open("/nonexistent/path/to/snapshot.mem"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestOpenRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir); err == nil {
		t.Fatal("expected error opening a directory as backing file")
	}
}

func TestOpenRejectsEmptyFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "empty")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	f.Close()

	if _, err := Open(f.Name()); err == nil {
		t.Fatal("expected error for empty backing file")
	}
}

// A sparse file whose first page is a hole and whose second page is
// dense data.
func TestOpenClassifiesSparseFile(t *testing.T) {
	ps := region.PageSize()

	f, err := os.CreateTemp(t.TempDir(), "snapshot")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	name := f.Name()

	if err := f.Truncate(int64(2 * ps)); err != nil {
		f.Close()
		t.Fatalf("Truncate: %v", err)
	}

	second := make([]byte, ps)
	for i := range second {
		second[i] = 0xAB
	}
	if _, err := f.WriteAt(second, int64(ps)); err != nil {
		f.Close()
		t.Fatalf("WriteAt: %v", err)
	}
	f.Close()

	view, err := Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer view.Close()

	if view.Size() != int64(2*ps) {
		t.Fatalf("Size: got %d, want %d", view.Size(), 2*ps)
	}

	// Second page must classify as Data regardless of filesystem
	// sparse-file support (dense filesystems report the whole file as
	// one Data segment, which still satisfies this assertion).
	seg, ok := view.Segments().Classify(ps)
	if !ok {
		t.Fatal("expected offset at start of second page to be classified")
	}
	if seg.Kind != region.Data {
		t.Fatalf("second page: got %v, want Data", seg.Kind)
	}

	if got := view.Bytes()[ps]; got != 0xAB {
		t.Fatalf("mmap content mismatch at offset %d: got %#x, want 0xab", ps, got)
	}
}
