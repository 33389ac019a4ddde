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

// Package ptpsource adapts a ptp4l management socket into a
// proxy/monitor.PTPSource, polling CURRENT_DATA_SET, DEFAULT_DATA_SET
// and PARENT_DATA_SET on every tick and folding the three into one
// proto.PTPSnapshot.
package ptpsource

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	ptp "github.com/facebook/clkmgr/ptp/protocol"
	"github.com/facebook/clkmgr/proto"
)

// Source polls one ptp4l instance over its management socket.
type Source struct {
	client         *ptp.MgmtClient
	syncIntervalUS int64
}

// New wraps an already-dialed connection to a ptp4l management socket.
// syncInterval is the cadence the caller is polling at; ptp4l's
// management protocol has no standard field carrying a port's
// logSyncInterval back to a client, so clkmgr reports its own polling
// cadence as the snapshot's sync interval.
func New(conn io.ReadWriter, syncInterval time.Duration) *Source {
	return &Source{
		client:         &ptp.MgmtClient{Connection: conn},
		syncIntervalUS: syncInterval.Microseconds(),
	}
}

// Dial opens the unixgram connection ptp4l's management socket expects:
// a datagram socket of our own, bound locally, connected to address.
func Dial(address string) (*net.UnixConn, error) {
	if address == "" {
		return nil, fmt.Errorf("ptpsource: empty ptp4l socket address")
	}
	base, _ := path.Split(address)
	local := path.Join(base, fmt.Sprintf("clkmgr.%d.sock", os.Getpid()))
	remoteAddr, err := net.ResolveUnixAddr("unixgram", address)
	if err != nil {
		return nil, fmt.Errorf("ptpsource: resolving %s: %w", address, err)
	}
	localAddr, err := net.ResolveUnixAddr("unixgram", local)
	if err != nil {
		return nil, fmt.Errorf("ptpsource: resolving %s: %w", local, err)
	}
	conn, err := net.DialUnix("unixgram", localAddr, remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("ptpsource: dialing %s: %w", address, err)
	}
	if err := os.Chmod(local, 0666); err != nil {
		conn.Close()
		os.RemoveAll(local)
		return nil, fmt.Errorf("ptpsource: chmod %s: %w", local, err)
	}
	return conn, nil
}

// Poll queries ptp4l's current, default and parent data sets and
// folds them into a PTPSnapshot. ctx is not honored: the management
// socket is a blocking unixgram round trip with no cancellation hook,
// same as ptp4l's own pmc tool.
func (s *Source) Poll(_ context.Context) (proto.PTPSnapshot, error) {
	current, err := s.client.CurrentDataSet()
	if err != nil {
		return proto.PTPSnapshot{}, fmt.Errorf("ptpsource: CURRENT_DATA_SET: %w", err)
	}
	deflt, err := s.client.DefaultDataSet()
	if err != nil {
		return proto.PTPSnapshot{}, fmt.Errorf("ptpsource: DEFAULT_DATA_SET: %w", err)
	}
	parent, err := s.client.ParentDataSet()
	if err != nil {
		return proto.PTPSnapshot{}, fmt.Errorf("ptpsource: PARENT_DATA_SET: %w", err)
	}

	// Same derivation ptp4l's own non-standard TIME_STATUS_NP uses
	// internally: the local clock is synced to a grandmaster whenever
	// the parent data set's grandmaster differs from our own identity.
	gmPresent := deflt.ClockIdentity != parent.GrandmasterIdentity

	var gmIdentity [8]byte
	for i := 0; i < 8; i++ {
		gmIdentity[7-i] = byte(parent.GrandmasterIdentity >> (8 * i))
	}

	return proto.PTPSnapshot{
		OffsetNS:             current.OffsetFromMaster.Nanoseconds(),
		GMIdentity:           gmIdentity,
		ASCapable:            gmPresent,
		SyncedToPrimaryClock: gmPresent,
		InstanceID:           deflt.DomainNumber,
		SyncIntervalUS:       s.syncIntervalUS,
	}, nil
}
