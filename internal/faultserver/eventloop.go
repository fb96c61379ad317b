/* SPDX-License-Identifier: BSD-2-Clause */

package faultserver

import (
	"fmt"
	"unsafe"

	uffd "github.com/ricardobranco777/go-userfaultfd"
	"golang.org/x/sys/unix"
)

// Run is the single-threaded cooperative event loop: block until the
// userfault descriptor is readable, read one event, dispatch it, and
// repeat. It returns only on a fatal error; there is no graceful
// shutdown path or cancellation.
func (h *Handler) Run() error {
	pollFD := []unix.PollFd{{Fd: int32(h.FD()), Events: unix.POLLIN}}

	for {
		if _, err := unix.Poll(pollFD, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("polling userfault descriptor: %w", err)
		}

		msg, err := h.uffd.ReadMsg()
		if err != nil {
			return fmt.Errorf("reading userfault event: %w", err)
		}

		switch msg.Event {
		case uffd.UFFD_EVENT_PAGEFAULT:
			fault := (*uffd.UffdMsgPagefault)(unsafe.Pointer(&msg.Data))
			isWrite := fault.Flags&uffd.UFFD_PAGEFAULT_FLAG_WRITE != 0
			if err := h.ServePagefault(uint64(fault.Address), isWrite); err != nil {
				return err
			}
		case uffd.UFFD_EVENT_REMOVE:
			remove := (*uffd.UffdMsgRemove)(unsafe.Pointer(&msg.Data))
			h.ServeRemove(uint64(remove.Start), uint64(remove.End))
		default:
			return fmt.Errorf("unexpected userfault event type %#x", msg.Event)
		}
	}
}
