/* SPDX-License-Identifier: BSD-2-Clause */

package region

import "testing"

func TestNewTableRejectsMisalignedFields(t *testing.T) {
	tests := []struct {
		name     string
		mappings []GuestRegionMapping
	}{
		{
			name:     "misaligned base",
			mappings: []GuestRegionMapping{{BaseHostVirtAddr: 1, Size: PageSize(), Offset: 0}},
		},
		{
			name:     "misaligned size",
			mappings: []GuestRegionMapping{{BaseHostVirtAddr: 0x10000000, Size: PageSize() + 1, Offset: 0}},
		},
		{
			name:     "misaligned offset",
			mappings: []GuestRegionMapping{{BaseHostVirtAddr: 0x10000000, Size: PageSize(), Offset: 1}},
		},
		{
			name:     "zero size",
			mappings: []GuestRegionMapping{{BaseHostVirtAddr: 0x10000000, Size: 0, Offset: 0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable(tt.mappings); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestNewTableRejectsOverlap(t *testing.T) {
	ps := PageSize()
	mappings := []GuestRegionMapping{
		{BaseHostVirtAddr: 0x10000000, Size: 2 * ps, Offset: 0},
		{BaseHostVirtAddr: 0x10000000 + ps, Size: ps, Offset: 2 * ps},
	}
	if _, err := NewTable(mappings); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestTableLookup(t *testing.T) {
	ps := PageSize()
	mappings := []GuestRegionMapping{
		{BaseHostVirtAddr: 0x20000000, Size: ps, Offset: 0x5000},
		{BaseHostVirtAddr: 0x10000000, Size: 2 * ps, Offset: 0},
	}
	table, err := NewTable(mappings)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	if got := table.SizeSum(); got != 3*ps {
		t.Fatalf("SizeSum: got %d, want %d", got, 3*ps)
	}

	offset, ok := table.Lookup(0x10000000)
	if !ok || offset != 0 {
		t.Fatalf("Lookup(0x10000000): got (%#x, %v)", offset, ok)
	}

	offset, ok = table.Lookup(0x10000000 + ps)
	if !ok || offset != ps {
		t.Fatalf("Lookup(base+page): got (%#x, %v)", offset, ok)
	}

	offset, ok = table.Lookup(0x20000000)
	if !ok || offset != 0x5000 {
		t.Fatalf("Lookup(0x20000000): got (%#x, %v)", offset, ok)
	}

	if _, ok := table.Lookup(0x30000000); ok {
		t.Fatal("Lookup(0x30000000): expected not found")
	}
}

func TestSegmentListClassify(t *testing.T) {
	ps := PageSize()
	segs := NewSegmentList([]Segment{
		{Start: 0, End: ps, Kind: Hole},
		{Start: ps, End: 2 * ps, Kind: Data},
		{Start: 2 * ps, End: 3 * ps, Kind: Hole},
	})

	tests := []struct {
		offset uint64
		want   SegmentKind
		ok     bool
	}{
		{0, Hole, true},
		{ps - 1, Hole, true},
		{ps, Data, true},
		{2*ps - 1, Data, true},
		{2 * ps, Hole, true},
		{3*ps - 1, Hole, true},
		{3 * ps, Data, false},
	}

	for _, tt := range tests {
		seg, ok := segs.Classify(tt.offset)
		if ok != tt.ok {
			t.Fatalf("Classify(%#x): ok=%v, want %v", tt.offset, ok, tt.ok)
		}
		if ok && seg.Kind != tt.want {
			t.Fatalf("Classify(%#x): kind=%v, want %v", tt.offset, seg.Kind, tt.want)
		}
	}
}

func TestTranslatorOffsetTranslation(t *testing.T) {
	ps := PageSize()
	mappings := []GuestRegionMapping{
		{BaseHostVirtAddr: 0x20000000, Size: ps, Offset: 0x5000},
	}
	table, err := NewTable(mappings)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	segs := NewSegmentList([]Segment{{Start: 0, End: 0x6000, Kind: Data}})
	tr := NewTranslator(table, segs)

	got, err := tr.Translate(0x20000abc)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got.PageAddr != 0x20000000 {
		t.Fatalf("PageAddr: got %#x, want %#x", got.PageAddr, 0x20000000)
	}
	if got.Offset != 0x5000 {
		t.Fatalf("Offset: got %#x, want %#x", got.Offset, 0x5000)
	}
	if got.Kind != Data {
		t.Fatalf("Kind: got %v, want Data", got.Kind)
	}
}

func TestTranslatorUnmappedAddress(t *testing.T) {
	ps := PageSize()
	mappings := []GuestRegionMapping{
		{BaseHostVirtAddr: 0x10000000, Size: 2 * ps, Offset: 0},
	}
	table, err := NewTable(mappings)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	segs := NewSegmentList([]Segment{{Start: 0, End: 2 * ps, Kind: Data}})
	tr := NewTranslator(table, segs)

	if _, err := tr.Translate(0x30000000); err == nil {
		t.Fatal("expected error for unmapped address")
	}
}
