/* SPDX-License-Identifier: BSD-2-Clause */

// Package backingfile opens a snapshot memory file, maps it read-only,
// and classifies its byte range into data/hole segments by probing the
// filesystem's sparse-extent metadata (component A of the handler).
package backingfile

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/fc-tools/uffd-handler/internal/region"
)

// View is the long-lived, read-only mapping of a snapshot memory file
// plus its segment classification. It is never mutated after Open
// returns, and it is never unmapped while faults are being served.
type View struct {
	file     *os.File
	mapping  mmap.MMap
	size     int64
	segments *region.SegmentList
}

// Open opens path read-only, memory-maps it in its entirety, and scans
// it for data/hole segments. Any failure here is a startup-fatal
// configuration error.
func Open(path string) (*View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backing file %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("backing file %s: stat: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("backing file %s: not a regular file", path)
	}
	size := info.Size()
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("backing file %s: empty", path)
	}

	m, err := mmap.MapRegion(f, int(size), mmap.RDONLY, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("backing file %s: mmap: %w", path, err)
	}

	segments, err := scanSegments(f, size)
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, fmt.Errorf("backing file %s: scanning extents: %w", path, err)
	}

	return &View{file: f, mapping: m, size: size, segments: segments}, nil
}

// Size returns the backing file's length in bytes.
func (v *View) Size() int64 { return v.size }

// Segments returns the backing file's data/hole classification.
func (v *View) Segments() *region.SegmentList { return v.segments }

// BaseAddr returns the address of the first byte of the mapping, used as
// the src pointer for page-copy ioctls.
func (v *View) BaseAddr() uintptr {
	return uintptr(unsafe.Pointer(&v.mapping[0]))
}

// Bytes returns the mapped region. Only valid for the lifetime of View.
func (v *View) Bytes() []byte { return v.mapping }

// Close unmaps the file and closes the descriptor. The command's run
// function defers it, so it runs only after startup or the event loop
// has failed, on the way to process exit; tests also call it.
func (v *View) Close() error {
	if err := v.mapping.Unmap(); err != nil {
		return err
	}
	return v.file.Close()
}

// scanSegments interrogates the filesystem's sparse-extent metadata via
// SEEK_DATA/SEEK_HOLE to produce an ascending, gap-free Segment list
// covering [0, size).
func scanSegments(f *os.File, size int64) (*region.SegmentList, error) {
	fd := int(f.Fd())
	segments := make([]region.Segment, 0, 8)

	var pos int64
	for pos < size {
		dataStart, err := unix.Seek(fd, pos, unix.SEEK_DATA)
		if err != nil {
			if err == unix.ENXIO {
				// No more data; the remainder of the file is a hole.
				segments = append(segments, region.Segment{
					Start: uint64(pos), End: uint64(size), Kind: region.Hole,
				})
				pos = size
				break
			}
			return nil, fmt.Errorf("SEEK_DATA at %d: %w", pos, err)
		}

		if dataStart > pos {
			segments = append(segments, region.Segment{
				Start: uint64(pos), End: uint64(dataStart), Kind: region.Hole,
			})
		}

		holeStart, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		if err != nil {
			if err == unix.ENXIO {
				holeStart = size
			} else {
				return nil, fmt.Errorf("SEEK_HOLE at %d: %w", dataStart, err)
			}
		}

		segments = append(segments, region.Segment{
			Start: uint64(dataStart), End: uint64(holeStart), Kind: region.Data,
		})
		pos = holeStart
	}

	if len(segments) == 0 {
		// A file with no SEEK_DATA offsets at all is entirely a hole.
		segments = append(segments, region.Segment{Start: 0, End: uint64(size), Kind: region.Hole})
	}

	// Restore the file offset; ReadAt-style access elsewhere never
	// depends on it, but leaving it at EOF would be a surprise to any
	// future caller that does a plain Read.
	if _, err := f.Seek(0, unix.SEEK_SET); err != nil {
		return nil, fmt.Errorf("restoring file offset: %w", err)
	}

	return region.NewSegmentList(segments), nil
}
