/* SPDX-License-Identifier: BSD-2-Clause */

package region

import "sort"

// SegmentKind classifies a byte range of the backing file.
type SegmentKind int

const (
	// Data means the file actually stores bytes at this range.
	Data SegmentKind = iota
	// Hole means the range is a sparse hole; reads as zero.
	Hole
)

func (k SegmentKind) String() string {
	if k == Hole {
		return "hole"
	}
	return "data"
}

// Segment is a contiguous, inclusive-start/exclusive-end byte range of
// the backing file, classified as Data or Hole. Segments tile
// [0, filesize) with ascending, non-overlapping ranges.
type Segment struct {
	Start uint64
	End   uint64 // exclusive
	Kind  SegmentKind
}

// Contains reports whether offset falls within [Start, End).
func (s Segment) Contains(offset uint64) bool {
	return offset >= s.Start && offset < s.End
}

// SegmentList is the sorted, immutable classification of a backing
// file's byte range, produced once at startup.
type SegmentList struct {
	segments []Segment
}

// NewSegmentList wraps an already-sorted, gap-free, non-overlapping
// segment slice. Callers (backingfile.Open's segment scan) are responsible for
// producing segments in that shape; NewSegmentList does not re-sort,
// since resorting would hide a caller bug as a silent reordering.
func NewSegmentList(segments []Segment) *SegmentList {
	return &SegmentList{segments: segments}
}

// Classify returns the Segment containing offset via binary search over
// the ascending segment list. ok is false if offset isn't covered by
// any segment — a fatal condition for callers.
func (l *SegmentList) Classify(offset uint64) (Segment, bool) {
	idx := sort.Search(len(l.segments), func(i int) bool {
		return l.segments[i].End > offset
	})
	if idx == len(l.segments) {
		return Segment{}, false
	}
	seg := l.segments[idx]
	if !seg.Contains(offset) {
		return Segment{}, false
	}
	return seg, true
}

// Len returns the number of segments.
func (l *SegmentList) Len() int { return len(l.segments) }
