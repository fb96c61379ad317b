/* SPDX-License-Identifier: BSD-2-Clause */

// Package region holds the handler's core data model: the guest region
// mapping table handed over at handshake, the backing-file segment list,
// and the translation from a faulting host address to a backing-file
// offset and segment classification.
package region

import (
	"fmt"
	"sort"
)

// GuestRegionMapping describes one contiguous guest memory region, as
// supplied by the VMM over the control channel. Field names match the
// wire protocol exactly.
type GuestRegionMapping struct {
	BaseHostVirtAddr uint64 `json:"base_host_virt_addr"`
	Size             uint64 `json:"size"`
	Offset           uint64 `json:"offset"`
}

// entry is a GuestRegionMapping plus its cached upper bound, so Lookup
// doesn't recompute base+size on every scan.
type entry struct {
	mapping GuestRegionMapping
	end     uint64 // exclusive: base + size
}

// Table is the ordered, immutable-after-construction collection of guest
// region mappings. Lookup is a linear scan: at the single-digit region
// counts this handler expects, that is faster and simpler than any
// indexed structure.
type Table struct {
	entries []entry
}

// NewTable validates mappings and builds a Table. It enforces that
// regions are disjoint in host address space, every base/size/offset is
// page-aligned, and size is non-zero. It does not check the
// sum-of-sizes-equals-file-length invariant; that crosses into
// backing-file knowledge and is checked once both the table and the
// file size are known.
func NewTable(mappings []GuestRegionMapping) (*Table, error) {
	entries := make([]entry, 0, len(mappings))
	for i, m := range mappings {
		if m.Size == 0 {
			return nil, fmt.Errorf("region %d: zero size", i)
		}
		if !IsPageAligned(m.BaseHostVirtAddr) {
			return nil, fmt.Errorf("region %d: base_host_virt_addr %#x is not page-aligned", i, m.BaseHostVirtAddr)
		}
		if !IsPageAligned(m.Size) {
			return nil, fmt.Errorf("region %d: size %#x is not page-aligned", i, m.Size)
		}
		if !IsPageAligned(m.Offset) {
			return nil, fmt.Errorf("region %d: offset %#x is not page-aligned", i, m.Offset)
		}
		entries = append(entries, entry{mapping: m, end: m.BaseHostVirtAddr + m.Size})
	}

	sorted := make([]entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].mapping.BaseHostVirtAddr < sorted[j].mapping.BaseHostVirtAddr
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].mapping.BaseHostVirtAddr < sorted[i-1].end {
			return nil, fmt.Errorf("region overlap: [%#x, %#x) overlaps [%#x, %#x)",
				sorted[i-1].mapping.BaseHostVirtAddr, sorted[i-1].end,
				sorted[i].mapping.BaseHostVirtAddr, sorted[i].end)
		}
	}

	return &Table{entries: entries}, nil
}

// SizeSum returns the sum of every region's size, used at handshake to
// validate against the backing file's length.
func (t *Table) SizeSum() uint64 {
	var sum uint64
	for _, e := range t.entries {
		sum += e.mapping.Size
	}
	return sum
}

// Len returns the number of regions in the table.
func (t *Table) Len() int { return len(t.entries) }

// Lookup finds the region containing hvaPage (already page-aligned) and
// returns the corresponding backing-file offset. ok is false if no
// region covers the address — a fatal condition for the caller.
func (t *Table) Lookup(hvaPage uint64) (offset uint64, ok bool) {
	for _, e := range t.entries {
		if hvaPage >= e.mapping.BaseHostVirtAddr && hvaPage < e.end {
			return e.mapping.Offset + (hvaPage - e.mapping.BaseHostVirtAddr), true
		}
	}
	return 0, false
}
