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

// Package client is the clkmgr client-facing API facade: Connect,
// Subscribe and StatusWait drive the session handshake, the
// subscription handshake and the blocking wait-for-change call, while a
// transport listener goroutine decodes every arriving Notify in the
// background and folds it into client/state.
package client

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/clkmgr/client/state"
	"github.com/facebook/clkmgr/client/subscription"
	"github.com/facebook/clkmgr/proto"
	"github.com/facebook/clkmgr/transport"
)

// maxDatagram bounds the scratch buffer used to encode every outgoing
// request, matching the proxy side's own limit.
const maxDatagram = 4096

// connectTimeout bounds how long Connect and Subscribe wait for the
// proxy's reply, the 5-second wall-clock budget called for in §5 of the
// spec this client implements.
const connectTimeout = 5 * time.Second

// defaultLivenessWindow is LIVENESS_WINDOW_MS's fallback: a notification
// within this long of now makes a liveness probe redundant, and bounds
// how long a probe itself is given to complete. The proxy's own
// configured value, carried down in the Connect reply, overrides this
// once a session is established.
const defaultLivenessWindow = 50 * time.Millisecond

// Errors returned by the facade. They map directly onto the wire
// protocol's ack_kind and liveness-probe outcomes.
var (
	ErrInvalidArgument = fmt.Errorf("clockmanager: invalid argument")
	ErrLostConnection  = fmt.Errorf("clockmanager: lost connection to proxy")
	ErrTimeout         = fmt.Errorf("clockmanager: timed out waiting for a proxy reply")
	ErrSessionRejected = fmt.Errorf("clockmanager: proxy rejected connect")
	ErrUnknownTimeBase = fmt.Errorf("clockmanager: proxy rejected subscribe: unknown time base")
)

// WaitResult is StatusWait's outcome.
type WaitResult int

// Recognized WaitResult values.
const (
	NoEventDetected WaitResult = iota
	EventDetected
)

func (r WaitResult) String() string {
	if r == EventDetected {
		return "EventDetected"
	}
	return "NoEventDetected"
}

// ClockManager is one client's handle onto the proxy: one session, one
// inbound queue, and the process-wide time-base state cache that queue's
// listener goroutine keeps warm.
type ClockManager struct {
	clientID string
	tx       *transport.Tx
	listener *transport.Listener

	registry *state.Registry

	livenessMu sync.Mutex

	mu               sync.Mutex
	sessionID        uint16
	timeBases        []proto.TimeBaseCfg
	livenessWindow   time.Duration
	subs             map[uint32]*subscription.Subscription
	pendingConnect   chan *proto.ConnectMessage
	pendingSubscribe map[uint32]chan *proto.SubscribeMessage
	lastNotify       time.Time
}

// Connect opens clientID's inbound queue, dials the proxy's well-known
// queue and performs the Connect handshake, returning a ClockManager
// ready for Subscribe once the proxy has acknowledged.
func Connect(clientID string) (*ClockManager, error) {
	tx, err := transport.OpenTx(transport.ProxyQueueName)
	if err != nil {
		return nil, fmt.Errorf("clockmanager: dialing proxy: %w", err)
	}

	cm := &ClockManager{
		clientID:         clientID,
		tx:               tx,
		registry:         state.NewRegistry(),
		subs:             make(map[uint32]*subscription.Subscription),
		pendingSubscribe: make(map[uint32]chan *proto.SubscribeMessage),
		sessionID:        proto.InvalidSessionID,
		livenessWindow:   defaultLivenessWindow,
	}

	listener, err := transport.NewListener(clientID, cm.handle)
	if err != nil {
		tx.Close()
		return nil, fmt.Errorf("clockmanager: opening %s queue: %w", clientID, err)
	}
	cm.listener = listener
	listener.Start()

	reply, err := cm.exchangeConnect(proto.InvalidSessionID, connectTimeout)
	if err != nil {
		transport.Stop()
		transport.Finalize()
		tx.Close()
		return nil, err
	}
	if reply.Header.AckKind != proto.AckSuccess {
		transport.Stop()
		transport.Finalize()
		tx.Close()
		return nil, ErrSessionRejected
	}

	cm.mu.Lock()
	cm.sessionID = reply.Header.SessionID
	cm.timeBases = reply.TimeBases
	if reply.LivenessWindowUS > 0 {
		cm.livenessWindow = time.Duration(reply.LivenessWindowUS) * time.Microsecond
	}
	cm.lastNotify = time.Now()
	cm.mu.Unlock()

	return cm, nil
}

// TimeBases returns the set of time bases the proxy advertised at
// Connect time.
func (cm *ClockManager) TimeBases() []proto.TimeBaseCfg {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.timeBases
}

// Disconnect releases the client's queue and proxy-facing socket. It
// stops every transport listener in the process, matching the proxy
// side's own Stop/Finalize pairing: a process embeds one ClockManager.
func (cm *ClockManager) Disconnect() error {
	transport.Stop()
	err := transport.Finalize()
	if cerr := cm.tx.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Subscribe replaces any existing subscription for timeBaseIndex,
// clears its transition counters, and sends the wire Subscribe. On
// success the proxy's snapshot reply is folded in as the baseline for
// future transitions, without incrementing any counter.
func (cm *ClockManager) Subscribe(timeBaseIndex uint32, eventMask, compositeMask proto.EventMask, thresholds []proto.ThresholdEntry) error {
	sub, err := subscription.New(timeBaseIndex, eventMask, compositeMask, thresholds)
	if err != nil {
		return err
	}

	ch := make(chan *proto.SubscribeMessage, 1)
	cm.mu.Lock()
	cm.subs[timeBaseIndex] = sub
	cm.pendingSubscribe[timeBaseIndex] = ch
	sessionID := cm.sessionID
	cm.mu.Unlock()
	defer func() {
		cm.mu.Lock()
		if cm.pendingSubscribe[timeBaseIndex] == ch {
			delete(cm.pendingSubscribe, timeBaseIndex)
		}
		cm.mu.Unlock()
	}()

	req := &proto.SubscribeMessage{
		Header:             proto.Header{SessionID: sessionID},
		TimeBaseIndex:       timeBaseIndex,
		EventMask:           eventMask,
		CompositeEventMask:  compositeMask,
		Thresholds:          thresholds,
	}
	buf, err := req.Encode(make([]byte, maxDatagram))
	if err != nil {
		return err
	}
	if err := cm.tx.Send(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrLostConnection, err)
	}

	select {
	case reply := <-ch:
		if reply.Header.AckKind != proto.AckSuccess {
			cm.mu.Lock()
			delete(cm.subs, timeBaseIndex)
			cm.mu.Unlock()
			return ErrUnknownTimeBase
		}
		rec := cm.registry.Record(timeBaseIndex)
		rec.Subscribe()
		baseline := sub.Evaluate(reply.PTP, reply.Sys)
		rec.SeedBaseline(reply.PTP, reply.Sys, baseline)
		return nil
	case <-time.After(connectTimeout):
		cm.mu.Lock()
		delete(cm.subs, timeBaseIndex)
		cm.mu.Unlock()
		return ErrTimeout
	}
}

// Unsubscribe drops the local subscription for timeBaseIndex. There is
// no wire Unsubscribe message: this only stops the client from folding
// further Notifies for that index into its cache.
func (cm *ClockManager) Unsubscribe(timeBaseIndex uint32) {
	cm.mu.Lock()
	delete(cm.subs, timeBaseIndex)
	cm.mu.Unlock()
	if rec, ok := cm.registry.Lookup(timeBaseIndex); ok {
		rec.Unsubscribe()
	}
}

// GetTime returns the most recently cached snapshot for timeBaseIndex
// without touching the network. The second return is false if nothing
// has been subscribed to this index yet.
func (cm *ClockManager) GetTime(timeBaseIndex uint32) (state.Snapshot, bool) {
	rec, ok := cm.registry.Lookup(timeBaseIndex)
	if !ok {
		return state.Snapshot{}, false
	}
	return rec.Snapshot(), true
}

// StatusWait implements the blocking wait-for-change call: it validates
// the subscription, probes proxy liveness, then blocks on the
// time base's counters up to timeout (0 polls once, <0 waits forever,
// >0 bounds the wait). On every return path other than InvalidArgument
// the current cached snapshot is reported, even on timeout.
func (cm *ClockManager) StatusWait(timeout time.Duration, timeBaseIndex uint32) (state.Snapshot, state.Counters, WaitResult, error) {
	cm.mu.Lock()
	_, subscribed := cm.subs[timeBaseIndex]
	cm.mu.Unlock()
	if !subscribed {
		return state.Snapshot{}, state.Counters{}, NoEventDetected, ErrInvalidArgument
	}

	rec, ok := cm.registry.Lookup(timeBaseIndex)
	if !ok {
		return state.Snapshot{}, state.Counters{}, NoEventDetected, ErrInvalidArgument
	}

	if err := cm.probeLiveness(); err != nil {
		return rec.Snapshot(), state.Counters{}, NoEventDetected, err
	}

	counters, any := rec.Wait(timeout)
	snap := rec.Snapshot()
	if any {
		rec.ClearEventChanged()
		return snap, counters, EventDetected, nil
	}
	return snap, counters, NoEventDetected, nil
}

// probeLiveness implements §4.9: a Notify within the proxy's configured
// liveness window makes the probe trivially succeed; otherwise a
// zero-body Connect carrying the existing session id must round-trip
// within that same window.
func (cm *ClockManager) probeLiveness() error {
	cm.mu.Lock()
	window := cm.livenessWindow
	fresh := time.Since(cm.lastNotify) < window
	sessionID := cm.sessionID
	cm.mu.Unlock()
	if fresh {
		return nil
	}

	cm.livenessMu.Lock()
	defer cm.livenessMu.Unlock()

	cm.mu.Lock()
	fresh = time.Since(cm.lastNotify) < window
	cm.mu.Unlock()
	if fresh {
		return nil
	}

	reply, err := cm.exchangeConnect(sessionID, window)
	if err != nil || reply.Header.AckKind != proto.AckSuccess {
		return ErrLostConnection
	}

	cm.mu.Lock()
	cm.lastNotify = time.Now()
	cm.mu.Unlock()
	return nil
}

// exchangeConnect sends a Connect carrying sessionID and waits up to
// timeout for the matching reply dispatched by handle.
func (cm *ClockManager) exchangeConnect(sessionID uint16, timeout time.Duration) (*proto.ConnectMessage, error) {
	ch := make(chan *proto.ConnectMessage, 1)
	cm.mu.Lock()
	cm.pendingConnect = ch
	cm.mu.Unlock()
	defer func() {
		cm.mu.Lock()
		if cm.pendingConnect == ch {
			cm.pendingConnect = nil
		}
		cm.mu.Unlock()
	}()

	req := &proto.ConnectMessage{Header: proto.Header{SessionID: sessionID}}
	req.Header.SetClientID(cm.clientID)
	buf, err := req.Encode(make([]byte, maxDatagram))
	if err != nil {
		return nil, err
	}
	if err := cm.tx.Send(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLostConnection, err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// handle is the transport.Listener Handler: it demultiplexes Notify
// pushes (folded into client/state) from Connect/Subscribe replies
// (delivered to whichever goroutine is waiting on them).
func (cm *ClockManager) handle(msgID proto.MessageID, raw []byte) {
	switch msgID {
	case proto.IDNotify:
		cm.handleNotify(raw)
	case proto.IDConnect:
		cm.handleConnectReply(raw)
	case proto.IDSubscribe:
		cm.handleSubscribeReply(raw)
	default:
		log.Warnf("clockmanager: dropping unexpected message kind %s", msgID)
	}
}

func (cm *ClockManager) handleNotify(raw []byte) {
	msg, err := proto.DecodeNotifyMessage(raw)
	if err != nil {
		log.Warnf("clockmanager: decoding Notify: %v", err)
		return
	}

	cm.mu.Lock()
	cm.lastNotify = time.Now()
	sub, ok := cm.subs[msg.TimeBaseIndex]
	cm.mu.Unlock()
	if !ok {
		return
	}

	bools := sub.Evaluate(msg.PTP, msg.Sys)
	cm.registry.Record(msg.TimeBaseIndex).Apply(msg.PTP, msg.Sys, bools, sub.EventMask)
}

func (cm *ClockManager) handleConnectReply(raw []byte) {
	reply, err := proto.DecodeConnectMessage(raw)
	if err != nil {
		log.Warnf("clockmanager: decoding Connect reply: %v", err)
		return
	}
	cm.mu.Lock()
	ch := cm.pendingConnect
	cm.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

func (cm *ClockManager) handleSubscribeReply(raw []byte) {
	reply, err := proto.DecodeSubscribeMessage(raw)
	if err != nil {
		log.Warnf("clockmanager: decoding Subscribe reply: %v", err)
		return
	}
	cm.mu.Lock()
	ch, ok := cm.pendingSubscribe[reply.TimeBaseIndex]
	cm.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}
