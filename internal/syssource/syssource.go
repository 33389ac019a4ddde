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

// Package syssource adapts a chronyd control connection into a
// proxy/monitor.SysSource, polling the 'tracking' record and
// translating it into a proto.SysSnapshot.
package syssource

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/facebook/clkmgr/ntp/chrony"
	"github.com/facebook/clkmgr/proto"
)

// client is the subset of chrony.Client's surface Source depends on,
// narrowed the same way facebook-time's own ntpcheck checker narrows
// it to chronyClient for testability.
type client interface {
	Communicate(packet chrony.RequestPacket) (chrony.ResponsePacket, error)
}

// Source polls one chronyd instance over its control protocol.
type Source struct {
	client client
}

// New wraps an already-dialed connection to chronyd.
func New(conn io.ReadWriter) *Source {
	return &Source{client: &chrony.Client{Sequence: 1, Connection: conn}}
}

// Dial connects to chronyd at address, using a unixgram socket when
// address looks like a path and UDP otherwise, matching chronyc's own
// rule of thumb.
func Dial(address string) (net.Conn, error) {
	if address == "" {
		return nil, fmt.Errorf("syssource: empty chronyd address")
	}
	if strings.HasPrefix(address, "/") {
		base, _ := path.Split(address)
		local := path.Join(base, fmt.Sprintf("clkmgr.%d.sock", os.Getpid()))
		conn, err := net.DialUnix("unixgram",
			&net.UnixAddr{Name: local, Net: "unixgram"},
			&net.UnixAddr{Name: address, Net: "unixgram"},
		)
		if err != nil {
			return nil, fmt.Errorf("syssource: dialing %s: %w", address, err)
		}
		if err := os.Chmod(local, 0666); err != nil {
			conn.Close()
			os.RemoveAll(local)
			return nil, fmt.Errorf("syssource: chmod %s: %w", local, err)
		}
		return conn, nil
	}
	conn, err := net.DialTimeout("udp", address, time.Second)
	if err != nil {
		return nil, fmt.Errorf("syssource: dialing %s: %w", address, err)
	}
	return conn, nil
}

// Poll requests chronyd's current tracking record and folds it into a
// SysSnapshot. ctx is not honored: chrony.Client.Communicate is a
// blocking round trip with no cancellation hook.
func (s *Source) Poll(_ context.Context) (proto.SysSnapshot, error) {
	resp, err := s.client.Communicate(chrony.NewTrackingPacket())
	if err != nil {
		return proto.SysSnapshot{}, fmt.Errorf("syssource: tracking request: %w", err)
	}
	tracking, ok := resp.(*chrony.ReplyTracking)
	if !ok {
		return proto.SysSnapshot{}, fmt.Errorf("syssource: unexpected tracking reply type %T", resp)
	}
	return proto.SysSnapshot{
		OffsetNS:       int64(tracking.LastOffset * 1e9),
		ReferenceID:    tracking.RefID,
		PollIntervalUS: int64(tracking.LastUpdateInterval * 1e6),
	}, nil
}
