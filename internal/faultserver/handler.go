/* SPDX-License-Identifier: BSD-2-Clause */

// Package faultserver implements the handler context (component E) and
// its event loop (component F): it owns the userfault descriptor and
// backing-file mapping for one peer VMM, and services pagefault/remove
// events for the lifetime of the process.
package faultserver

import (
	"fmt"

	uffd "github.com/ricardobranco777/go-userfaultfd"

	"github.com/fc-tools/uffd-handler/internal/backingfile"
	"github.com/fc-tools/uffd-handler/internal/logging"
	"github.com/fc-tools/uffd-handler/internal/region"
)

// device is the subset of *uffd.Uffd that the handler drives. Narrowing
// it to an interface lets tests exercise the fault-dispatch logic with a
// fake device instead of a real kernel userfaultfd.
type device interface {
	Copy(dst, src, length uintptr, mode uint64) (int64, error)
	Zeropage(dst, length uintptr, mode uint64) (int64, error)
	ReadMsg() (uffd.Msg, error)
	Fd() int
}

// Handler is the long-lived runtime object bound to one peer VMM. It
// owns the userfault descriptor and the backing-file mapping; the
// region table and segment list referenced by the translator are never
// mutated after construction.
type Handler struct {
	uffd       device
	view       *backingfile.View
	translator *region.Translator
	peerPID    int32 // diagnostic only, never consulted for policy
	log        logging.Logger
}

// New adopts uffdFD (received over the control channel via SCM_RIGHTS)
// as the handler's userfault descriptor and binds it to the given
// backing-file view and region table. peerPID is recorded for
// diagnostics only.
func New(uffdFD int, view *backingfile.View, table *region.Table, peerPID int32, log logging.Logger) (*Handler, error) {
	if table.SizeSum() != uint64(view.Size()) {
		return nil, fmt.Errorf("mapping size sum %d does not match backing file length %d", table.SizeSum(), view.Size())
	}

	u, err := uffd.NewFromFD(uffdFD)
	if err != nil {
		return nil, fmt.Errorf("adopting userfault descriptor: %w", err)
	}

	return newHandler(u, view, table, peerPID, log), nil
}

// newHandler wires an already-adopted device into a Handler. Split out
// of New so tests can supply a fake device.
func newHandler(d device, view *backingfile.View, table *region.Table, peerPID int32, log logging.Logger) *Handler {
	return &Handler{
		uffd:       d,
		view:       view,
		translator: region.NewTranslator(table, view.Segments()),
		peerPID:    peerPID,
		log:        log,
	}
}

// PeerPID returns the peer VMM's process id, recorded at handshake for
// diagnostic labeling only.
func (h *Handler) PeerPID() int32 { return h.peerPID }

// FD returns the raw userfault descriptor, used by the event loop to
// wait for readiness.
func (h *Handler) FD() int { return h.uffd.Fd() }

// ServePagefault resolves one Pagefault event: translate the faulting
// address, then install either file-derived content or a zero page.
func (h *Handler) ServePagefault(addr uint64, isWrite bool) error {
	t, err := h.translator.Translate(addr)
	if err != nil {
		return fmt.Errorf("serving pagefault: %w", err)
	}

	access := "r"
	if isWrite {
		access = "w"
	}
	pageSize := region.PageSize()

	switch t.Kind {
	case region.Data:
		src := h.view.BaseAddr() + uintptr(t.Offset)
		h.log.Debug("UFFD_EVENT_PAGEFAULT copy", "access", access, "addr", fmt.Sprintf("%#x", addr), "page", fmt.Sprintf("%#x", t.PageAddr), "file_offset", fmt.Sprintf("%#x", t.Offset))
		n, err := h.uffd.Copy(uintptr(t.PageAddr), src, uintptr(pageSize), 0)
		if err != nil {
			return fmt.Errorf("uffd copy at %#x (file offset %#x): %w", t.PageAddr, t.Offset, err)
		}
		if n <= 0 {
			return fmt.Errorf("uffd copy at %#x copied zero bytes", t.PageAddr)
		}
	case region.Hole:
		h.log.Debug("UFFD_EVENT_PAGEFAULT zero", "access", access, "addr", fmt.Sprintf("%#x", addr), "page", fmt.Sprintf("%#x", t.PageAddr), "file_offset", fmt.Sprintf("%#x", t.Offset))
		n, err := h.uffd.Zeropage(uintptr(t.PageAddr), uintptr(pageSize), 0)
		if err != nil {
			return fmt.Errorf("uffd zeropage at %#x (file offset %#x): %w", t.PageAddr, t.Offset, err)
		}
		if n <= 0 {
			return fmt.Errorf("uffd zeropage at %#x zeroed no bytes", t.PageAddr)
		}
	}

	return nil
}

// ServeRemove handles a Remove event. The conservative policy is to do
// nothing: the next fault in this range re-derives its content from
// the backing file or segment map.
func (h *Handler) ServeRemove(start, end uint64) {
	h.log.Debug("UFFD_EVENT_REMOVE", "start", fmt.Sprintf("%#x", start), "end", fmt.Sprintf("%#x", end))
}
