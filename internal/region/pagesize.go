/* SPDX-License-Identifier: BSD-2-Clause */

package region

import (
	"sync"

	"golang.org/x/sys/unix"
)

var (
	pageSizeOnce   sync.Once
	cachedPageSize uint64
)

// PageSize returns the platform page size in bytes. It is queried once
// from the kernel and cached for the remainder of the process: it must
// be stable before the handshake completes, since every region and
// segment boundary is expressed in pages.
func PageSize() uint64 {
	pageSizeOnce.Do(func() {
		cachedPageSize = uint64(unix.Getpagesize())
	})
	return cachedPageSize
}

// PageAlign rounds addr down to the nearest page boundary.
func PageAlign(addr uint64) uint64 {
	ps := PageSize()
	return addr &^ (ps - 1)
}

// IsPageAligned reports whether v is a multiple of the page size.
func IsPageAligned(v uint64) bool {
	return v%PageSize() == 0
}
