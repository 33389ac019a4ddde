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

package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/clkmgr/proto"
	"github.com/facebook/clkmgr/transport"
)

func withScratchQueueDir(t *testing.T) {
	t.Helper()
	old := transport.Dir
	transport.Dir = t.TempDir()
	t.Cleanup(func() { transport.Dir = old })
}

// fakeProxy answers Connect with a fixed session id and one time base,
// and Subscribe with a caller-supplied canned reply, recording the
// client id it should address Notifies to.
type fakeProxy struct {
	rx *transport.Rx

	mu       sync.Mutex
	clientID string

	subscribeReply func(req *proto.SubscribeMessage) *proto.SubscribeMessage
}

func startFakeProxy(t *testing.T) *fakeProxy {
	t.Helper()
	rx, err := transport.OpenRx(transport.ProxyQueueName)
	require.NoError(t, err)
	p := &fakeProxy{rx: rx}
	go p.loop()
	t.Cleanup(func() { rx.Close() })
	return p
}

func (p *fakeProxy) loop() {
	for {
		raw, err := p.rx.Receive(time.Second)
		if err != nil {
			return
		}
		msgID, err := proto.PeekMessageID(raw)
		if err != nil {
			continue
		}
		switch msgID {
		case proto.IDConnect:
			req, err := proto.DecodeConnectMessage(raw)
			if err != nil {
				continue
			}
			clientID := req.Header.ClientIDString()
			p.mu.Lock()
			p.clientID = clientID
			p.mu.Unlock()
			reply := &proto.ConnectMessage{
				Header:    proto.Header{SessionID: 7, AckKind: proto.AckSuccess},
				TimeBases: []proto.TimeBaseCfg{{TimeBaseIndex: 1, Name: "eth0", HavePtp: true}},
			}
			reply.Header.SetClientID(clientID)
			p.reply(clientID, reply)
		case proto.IDSubscribe:
			req, err := proto.DecodeSubscribeMessage(raw)
			if err != nil {
				continue
			}
			reply := p.subscribeReply(req)
			p.mu.Lock()
			clientID := p.clientID
			p.mu.Unlock()
			p.reply(clientID, reply)
		}
	}
}

func (p *fakeProxy) reply(clientID string, msg interface{ Encode([]byte) ([]byte, error) }) {
	tx, err := transport.OpenTx(clientID)
	if err != nil {
		return
	}
	defer tx.Close()
	buf, err := msg.Encode(make([]byte, 4096))
	if err != nil {
		return
	}
	tx.Send(buf)
}

// pushNotify sends a Notify to clientID as if it were the proxy's own
// aggregator fan-out.
func (p *fakeProxy) pushNotify(t *testing.T, clientID string, msg *proto.NotifyMessage) {
	t.Helper()
	tx, err := transport.OpenTx(clientID)
	require.NoError(t, err)
	defer tx.Close()
	buf, err := msg.Encode(make([]byte, 4096))
	require.NoError(t, err)
	require.NoError(t, tx.Send(buf))
}

func TestConnectReceivesSessionAndTimeBases(t *testing.T) {
	withScratchQueueDir(t)
	startFakeProxy(t)

	cm, err := Connect("client-connect")
	require.NoError(t, err)
	t.Cleanup(func() { cm.Disconnect() })

	require.Len(t, cm.TimeBases(), 1)
	require.Equal(t, uint32(1), cm.TimeBases()[0].TimeBaseIndex)
}

func TestSubscribeFailureIsReported(t *testing.T) {
	withScratchQueueDir(t)
	proxy := startFakeProxy(t)
	proxy.subscribeReply = func(req *proto.SubscribeMessage) *proto.SubscribeMessage {
		return &proto.SubscribeMessage{
			Header:        proto.Header{SessionID: req.Header.SessionID, AckKind: proto.AckFailure},
			TimeBaseIndex: req.TimeBaseIndex,
		}
	}

	cm, err := Connect("client-sub-fail")
	require.NoError(t, err)
	t.Cleanup(func() { cm.Disconnect() })

	err = cm.Subscribe(99, proto.EventOffsetInRange, 0, nil)
	require.ErrorIs(t, err, ErrUnknownTimeBase)
}

func TestSubscribeSeedsBaselineWithoutIncrementingCounters(t *testing.T) {
	withScratchQueueDir(t)
	proxy := startFakeProxy(t)
	proxy.subscribeReply = func(req *proto.SubscribeMessage) *proto.SubscribeMessage {
		return &proto.SubscribeMessage{
			Header:        proto.Header{SessionID: req.Header.SessionID, AckKind: proto.AckSuccess},
			TimeBaseIndex: req.TimeBaseIndex,
			Which:         proto.WhichPTP,
			PTP:           &proto.PTPSnapshot{OffsetNS: 500, ASCapable: true},
		}
	}

	cm, err := Connect("client-sub-ok")
	require.NoError(t, err)
	t.Cleanup(func() { cm.Disconnect() })

	require.NoError(t, cm.Subscribe(1, proto.EventOffsetInRange|proto.EventAsCapable, 0,
		[]proto.ThresholdEntry{{Kind: proto.ThresholdGMOffset, Upper: 1000, Lower: -1000}}))

	snap, ok := cm.GetTime(1)
	require.True(t, ok)
	require.True(t, snap.Bools.OffsetInRangePTP)

	_, counters, result, err := cm.StatusWait(0, 1)
	require.NoError(t, err)
	require.Equal(t, NoEventDetected, result)
	require.False(t, counters.Any())
}

func TestStatusWaitDetectsNotifyDrivenTransition(t *testing.T) {
	withScratchQueueDir(t)
	proxy := startFakeProxy(t)
	proxy.subscribeReply = func(req *proto.SubscribeMessage) *proto.SubscribeMessage {
		return &proto.SubscribeMessage{
			Header:        proto.Header{SessionID: req.Header.SessionID, AckKind: proto.AckSuccess},
			TimeBaseIndex: req.TimeBaseIndex,
			Which:         proto.WhichPTP,
			PTP:           &proto.PTPSnapshot{ASCapable: false},
		}
	}

	cm, err := Connect("client-wait")
	require.NoError(t, err)
	t.Cleanup(func() { cm.Disconnect() })

	require.NoError(t, cm.Subscribe(1, proto.EventAsCapable, 0, nil))

	go func() {
		time.Sleep(20 * time.Millisecond)
		proxy.pushNotify(t, "client-wait", &proto.NotifyMessage{
			TimeBaseIndex: 1,
			Which:         proto.WhichPTP,
			PTP:           &proto.PTPSnapshot{ASCapable: true},
		})
	}()

	snap, counters, result, err := cm.StatusWait(time.Second, 1)
	require.NoError(t, err)
	require.Equal(t, EventDetected, result)
	require.EqualValues(t, 1, counters.AsCapable)
	require.True(t, snap.Bools.AsCapable)
}

func TestStatusWaitRejectsUnknownTimeBase(t *testing.T) {
	withScratchQueueDir(t)
	startFakeProxy(t)

	cm, err := Connect("client-unknown")
	require.NoError(t, err)
	t.Cleanup(func() { cm.Disconnect() })

	_, _, _, err = cm.StatusWait(0, 42)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
