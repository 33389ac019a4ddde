/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package transport implements the bidirectional datagram transport
// used by the clkmgr proxy-client protocol: one well-known proxy-inbound
// queue and one per-client inbound queue, each bounded to
// codec.MaxMessageSize-byte datagrams. Named queues are realized as
// SOCK_DGRAM Unix domain sockets bound under a runtime directory, the
// idiomatic Linux analogue of the original POSIX mqueue transport (see
// SPEC_FULL.md §4).
package transport

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/facebook/clkmgr/codec"
)

// ProxyQueueName is the well-known name of the proxy's inbound queue.
const ProxyQueueName = "clkmgr"

// MaxQueueDepth is the MAX_CLIENT_COUNT queue depth of the original
// mqueue transport. Nothing in this package enforces it: how many
// datagrams a queue buffers is bounded only by the kernel socket buffer.
const MaxQueueDepth = 8

// ErrQueueUnreachable is returned by Send when the peer's queue cannot
// accept the datagram (the proxy treats this as session death; the
// client surfaces it as a liveness failure).
var ErrQueueUnreachable = fmt.Errorf("transport: queue unreachable")

// ErrTruncated is returned by Receive when a datagram larger than
// codec.MaxMessageSize was read.
var ErrTruncated = fmt.Errorf("transport: truncated datagram")

// Dir is the runtime directory holding the queues' socket files. It is
// a package variable (not a const) so tests can redirect it to a
// scratch directory.
var Dir = "/var/run/clkmgr"

// socketPath returns the filesystem path backing the named queue.
func socketPath(name string) string {
	return filepath.Join(Dir, name+".sock")
}

// Tx is the transmit side of a named queue: non-blocking send to a peer
// that has already bound its own Rx.
type Tx struct {
	name string
	conn *net.UnixConn
}

// OpenTx dials the named queue for sending. The peer must already have
// called OpenRx with the same name.
func OpenTx(name string) (*Tx, error) {
	addr := &net.UnixAddr{Name: socketPath(name), Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", name, err)
	}
	return &Tx{name: name, conn: conn}, nil
}

// Send writes msg as a single datagram via a non-blocking unix.Send
// (MSG_DONTWAIT) on the socket's raw fd, the same raw-syscall send path
// ptp4u/server.go uses for its own UDP sends: one attempt, no retry. The
// kernel socket buffer plays the role of the bounded queue, and a full
// buffer (EAGAIN/EWOULDBLOCK) or a vanished peer both surface as
// ErrQueueUnreachable rather than blocking the caller.
func (t *Tx) Send(msg []byte) error {
	if len(msg) > codec.MaxMessageSize {
		return fmt.Errorf("transport: message of %d bytes exceeds max %d", len(msg), codec.MaxMessageSize)
	}
	raw, err := t.conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnreachable, err)
	}
	var sendErr error
	if ctrlErr := raw.Write(func(fd uintptr) bool {
		sendErr = unix.Send(int(fd), msg, unix.MSG_DONTWAIT)
		return true
	}); ctrlErr != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnreachable, ctrlErr)
	}
	if sendErr != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnreachable, sendErr)
	}
	return nil
}

// Close releases the transmit socket.
func (t *Tx) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// Rx is the receive side of a named queue.
type Rx struct {
	name string
	conn *net.UnixConn
}

// OpenRx creates (or re-creates) the named queue for receiving. The
// caller is the unique owner of this queue and is responsible for
// calling Close to unlink it.
func OpenRx(name string) (*Rx, error) {
	if err := os.MkdirAll(Dir, 0755); err != nil {
		return nil, fmt.Errorf("transport: creating %s: %w", Dir, err)
	}
	path := socketPath(name)
	_ = os.Remove(path) // drop any stale socket file from a prior run
	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", name, err)
	}
	return &Rx{name: name, conn: conn}, nil
}

// Receive blocks until a datagram arrives or timeout elapses (0 means
// wait forever). It returns ErrTruncated if the datagram did not fit in
// a single codec.MaxMessageSize buffer.
func (r *Rx) Receive(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	} else {
		if err := r.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, err
		}
	}
	buf := make([]byte, codec.MaxMessageSize+1)
	n, _, err := r.conn.ReadFromUnix(buf)
	if err != nil {
		return nil, err
	}
	if n > codec.MaxMessageSize {
		return nil, ErrTruncated
	}
	return buf[:n], nil
}

// Close closes and unlinks the receive queue.
func (r *Rx) Close() error {
	err := r.conn.Close()
	if rmErr := os.Remove(socketPath(r.name)); rmErr != nil && !os.IsNotExist(rmErr) {
		log.Warnf("transport: unlinking queue %s: %v", r.name, rmErr)
	}
	return err
}
