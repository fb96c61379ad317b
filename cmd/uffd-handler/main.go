/* SPDX-License-Identifier: BSD-2-Clause */

// Command uffd-handler is the out-of-process page-fault handler: it
// receives a userfault descriptor and guest region mapping table from a
// peer VMM over a unix control socket, then services pagefault and
// remove events against a mmap'd snapshot memory file for the lifetime
// of the process.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/fc-tools/uffd-handler/internal/backingfile"
	"github.com/fc-tools/uffd-handler/internal/faultserver"
	"github.com/fc-tools/uffd-handler/internal/handshake"
	"github.com/fc-tools/uffd-handler/internal/logging"
	"github.com/fc-tools/uffd-handler/internal/region"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "uffd-handler <socket-path> <memory-file>",
		Short: "Out-of-process userfaultfd page-fault handler",
		Long: "uffd-handler binds socket-path, receives a userfault descriptor and\n" +
			"guest region mapping table from one peer VMM, then services page\n" +
			"faults against memory-file until the process is terminated.",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], verbose)
		},
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		logging.New(verbose).Fatal(fmt.Sprintf("uffd-handler: %v", err))
	}
}

// run wires the backing file, handshake, region table, and event loop
// together. It returns the first fatal error encountered; callers log it
// and exit non-zero.
func run(socketPath, memoryFile string, verbose bool) error {
	log := logging.New(verbose)

	log.Debug("opening backing file", "path", memoryFile)
	view, err := backingfile.Open(memoryFile)
	if err != nil {
		return fmt.Errorf("opening backing file: %w", err)
	}
	defer view.Close()
	log.Debug("backing file opened", "size", view.Size(), "segments", view.Segments().Len(),
		"mmap_start", fmt.Sprintf("%#x", view.BaseAddr()), "mmap_end", fmt.Sprintf("%#x", view.BaseAddr()+uintptr(view.Size())))
	for off := uint64(0); off < uint64(view.Size()); {
		seg, ok := view.Segments().Classify(off)
		if !ok {
			break
		}
		log.Debug("segment", "start", fmt.Sprintf("%#x", seg.Start), "end", fmt.Sprintf("%#x", seg.End), "kind", seg.Kind)
		off = seg.End
	}

	log.Debug("waiting for control-channel handshake", "socket", socketPath)
	result, err := handshake.Receive(socketPath)
	if err != nil {
		return fmt.Errorf("performing handshake: %w", err)
	}
	log.Debug("connected to peer", "pid", result.PeerPID, "uid", result.PeerUID, "gid", result.PeerGID)
	for i, m := range result.Mappings {
		log.Debug("guest region mapping", "index", i, "base", fmt.Sprintf("%#x", m.BaseHostVirtAddr), "size", m.Size, "offset", fmt.Sprintf("%#x", m.Offset))
	}

	table, err := region.NewTable(result.Mappings)
	if err != nil {
		unix.Close(result.UffdFD)
		return fmt.Errorf("building region table: %w", err)
	}
	log.Debug("region table built", "regions", table.Len(), "total_size", table.SizeSum())

	handler, err := faultserver.New(result.UffdFD, view, table, result.PeerPID, log)
	if err != nil {
		unix.Close(result.UffdFD)
		return fmt.Errorf("constructing handler: %w", err)
	}

	log.Debug("entering event loop", "peer_pid", handler.PeerPID())
	if err := handler.Run(); err != nil {
		return fmt.Errorf("event loop: %w", err)
	}
	return nil
}
