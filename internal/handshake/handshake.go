/* SPDX-License-Identifier: BSD-2-Clause */

// Package handshake implements the one-shot control-channel protocol
// (component B): bind a unix socket, accept one peer, read the guest
// region mapping table and the userfault descriptor passed via
// SCM_RIGHTS, and read the peer's credentials for diagnostics.
package handshake

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/fc-tools/uffd-handler/internal/region"
)

// maxMessageSize bounds the single datagram the VMM sends. The mapping
// table is a handful of small JSON objects; this is generous headroom.
const maxMessageSize = 64 * 1024

// Result is everything the handshake produces: the parsed mapping
// table, the adopted userfault descriptor, and the peer's credentials
// (diagnostic only).
type Result struct {
	Mappings []region.GuestRegionMapping
	UffdFD   int
	PeerPID  int32
	PeerUID  uint32
	PeerGID  uint32
}

// Receive binds socketPath, accepts exactly one connection, and performs
// the one-shot handshake: read the guest region mapping table and the
// adopted userfault descriptor. socketPath must not already exist. Any
// protocol violation is a fatal handshake error.
func Receive(socketPath string) (*Result, error) {
	if _, err := os.Stat(socketPath); err == nil {
		return nil, fmt.Errorf("socket path %s already exists", socketPath)
	}

	listenFD, err := listenUnix(socketPath)
	if err != nil {
		return nil, errors.Wrapf(err, "binding control socket %s", socketPath)
	}
	defer unix.Close(listenFD)
	defer os.Remove(socketPath)

	connFD, _, err := unix.Accept(listenFD)
	if err != nil {
		return nil, errors.Wrap(err, "accepting control-channel peer")
	}
	defer unix.Close(connFD)

	creds, err := unix.GetsockoptUcred(connFD, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return nil, errors.Wrap(err, "reading peer credentials")
	}

	body, uffdFD, err := recvWithFD(connFD)
	if err != nil {
		return nil, errors.Wrap(err, "reading handshake datagram")
	}
	if uffdFD < 0 {
		return nil, errors.New("handshake datagram carried no userfault descriptor")
	}

	var mappings []region.GuestRegionMapping
	if err := json.Unmarshal(body, &mappings); err != nil {
		unix.Close(uffdFD)
		return nil, errors.Wrap(err, "parsing guest region mapping JSON")
	}
	if len(mappings) == 0 {
		unix.Close(uffdFD)
		return nil, errors.New("guest region mapping table is empty")
	}

	return &Result{
		Mappings: mappings,
		UffdFD:   uffdFD,
		PeerPID:  creds.Pid,
		PeerUID:  creds.Uid,
		PeerGID:  creds.Gid,
	}, nil
}

// listenUnix creates and binds a SOCK_STREAM unix socket at path,
// returning the raw listening file descriptor. A raw fd, rather than a
// net.Listener, is needed because the handshake itself reads ancillary
// data (SCM_RIGHTS) and peer credentials through syscalls that the
// standard library's net package doesn't expose directly.
func listenUnix(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, errors.Wrap(err, "socket")
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "bind")
	}

	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "listen")
	}

	return fd, nil
}

// recvWithFD reads one message from fd along with at most one ancillary
// file descriptor carried via SCM_RIGHTS.
func recvWithFD(fd int) ([]byte, int, error) {
	buf := make([]byte, maxMessageSize)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return nil, -1, errors.Wrap(err, "recvmsg")
	}

	receivedFD := -1
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return nil, -1, errors.Wrap(err, "parsing socket control message")
		}
		for _, cmsg := range cmsgs {
			fds, err := unix.ParseUnixRights(&cmsg)
			if err != nil {
				continue
			}
			if len(fds) > 0 {
				receivedFD = fds[0]
				// Close any further fds the peer mistakenly sent; the
				// protocol only ever carries one.
				for _, extra := range fds[1:] {
					unix.Close(extra)
				}
				break
			}
		}
	}

	return buf[:n], receivedFD, nil
}
