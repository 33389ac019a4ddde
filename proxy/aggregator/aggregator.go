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

// Package aggregator holds the latest PTP and system-clock snapshot for
// every configured time base and fans each update out to the sessions
// subscribed to that time base as a Notify message.
package aggregator

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/clkmgr/proto"
)

// Subscribers is the slice of the session registry the aggregator
// needs: who is listening on a time base, and how to reach them. Package
// proxy satisfies it with a small adapter over *session.Registry, whose
// own SubscribersOf returns []*session.Session; declaring it here (rather than
// importing proxy/session) keeps the aggregator ignorant of session
// allocation and removal policy.
type Subscribers interface {
	SubscribersOf(timeBaseIndex uint32) []Sender
}

// Sender is the narrow capability the aggregator needs from a session:
// push a pre-encoded Notify datagram, and be identifiable for removal
// on send failure.
type Sender interface {
	ID() uint16
	Send(msg []byte) error
}

// Remover drops a dead session from the registry.
type Remover interface {
	Remove(sessionID uint16)
}

type slot struct {
	mu  sync.Mutex
	cfg proto.TimeBaseCfg
	ptp *proto.PTPSnapshot
	sys *proto.SysSnapshot
}

// Aggregator is the proxy's per-time-base state store and fanout
// engine. One Aggregator instance serves every configured time base.
type Aggregator struct {
	subs    Subscribers
	remover Remover

	mu    sync.Mutex
	slots map[uint32]*slot

	notifiedTotal   uint64
	sendFailedTotal uint64
}

// NotifiedTotal reports how many Notify messages have been successfully
// sent to a subscriber, for metrics.
func (a *Aggregator) NotifiedTotal() uint64 { return atomic.LoadUint64(&a.notifiedTotal) }

// SendFailedTotal reports how many Notify sends have failed (the
// session was dead and got removed), for metrics.
func (a *Aggregator) SendFailedTotal() uint64 { return atomic.LoadUint64(&a.sendFailedTotal) }

// New returns an Aggregator that fans Notify messages out through subs
// and asks remover to drop sessions whose queue has died.
func New(subs Subscribers, remover Remover) *Aggregator {
	return &Aggregator{subs: subs, remover: remover, slots: make(map[uint32]*slot)}
}

// Configure registers (or re-registers) a time base's static
// configuration, used to stamp outgoing Notify messages and to answer
// Connect requests.
func (a *Aggregator) Configure(cfg proto.TimeBaseCfg) {
	a.mu.Lock()
	s, ok := a.slots[cfg.TimeBaseIndex]
	if !ok {
		s = &slot{}
		a.slots[cfg.TimeBaseIndex] = s
	}
	a.mu.Unlock()

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// TimeBases returns the static configuration of every registered time
// base, in no particular order, for use in a Connect reply.
func (a *Aggregator) TimeBases() []proto.TimeBaseCfg {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]proto.TimeBaseCfg, 0, len(a.slots))
	for _, s := range a.slots {
		s.mu.Lock()
		out = append(out, s.cfg)
		s.mu.Unlock()
	}
	return out
}

// Snapshot returns the latest known PTP and system-clock state for
// timeBaseIndex, for use answering a Subscribe request's initial
// snapshot.
func (a *Aggregator) Snapshot(timeBaseIndex uint32) (ptp *proto.PTPSnapshot, sys *proto.SysSnapshot, ok bool) {
	s := a.slotFor(timeBaseIndex)
	if s == nil {
		return nil, nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptp, s.sys, true
}

func (a *Aggregator) slotFor(timeBaseIndex uint32) *slot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slots[timeBaseIndex]
}

func (a *Aggregator) slotForOrCreate(timeBaseIndex uint32) *slot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.slots[timeBaseIndex]
	if !ok {
		s = &slot{cfg: proto.TimeBaseCfg{TimeBaseIndex: timeBaseIndex}}
		a.slots[timeBaseIndex] = s
	}
	return s
}

// PushPTP records a fresh PTP snapshot for timeBaseIndex and notifies
// every subscribed session. The snapshot write and the fan-out happen
// under the same slot lock, so a concurrent PushSys for the same time
// base (the monitor polls PTP and system-clock sources on independent
// goroutines) can never have its Notify overtake this one: acceptance
// order and delivery order always agree.
func (a *Aggregator) PushPTP(timeBaseIndex uint32, snap proto.PTPSnapshot) {
	s := a.slotForOrCreate(timeBaseIndex)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ptp = &snap
	a.notify(timeBaseIndex, proto.WhichPTP, &snap, s.sys)
}

// PushSys records a fresh system-clock snapshot for timeBaseIndex and
// notifies every subscribed session, under the same per-slot lock as
// PushPTP for the reason given there.
func (a *Aggregator) PushSys(timeBaseIndex uint32, snap proto.SysSnapshot) {
	s := a.slotForOrCreate(timeBaseIndex)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sys = &snap
	a.notify(timeBaseIndex, proto.WhichSys, s.ptp, &snap)
}

// notify builds one Notify message per subscribed session and sends
// it. Sessions whose send fails are collected and removed after the
// fanout completes, so one dead peer never stalls delivery to the
// rest and the subscriber list isn't mutated while being iterated.
// Callers hold the originating slot's lock for the whole call, so the
// sends for one time base's update are never interleaved with another
// update to the same time base.
func (a *Aggregator) notify(timeBaseIndex uint32, which proto.WhichClocks, ptpSnap *proto.PTPSnapshot, sysSnap *proto.SysSnapshot) {
	subs := a.subs.SubscribersOf(timeBaseIndex)
	if len(subs) == 0 {
		return
	}

	msg := &proto.NotifyMessage{
		Header:        proto.Header{MsgID: proto.IDNotify},
		TimeBaseIndex: timeBaseIndex,
		Which:         which,
		PTP:           ptpSnap,
		Sys:           sysSnap,
	}

	var dead []uint16
	for _, sub := range subs {
		msg.Header.SessionID = sub.ID()
		buf, err := msg.Encode(make([]byte, 4096))
		if err != nil {
			log.Warnf("aggregator: encoding notify for session %d: %v", sub.ID(), err)
			continue
		}
		if err := sub.Send(buf); err != nil {
			log.Debugf("aggregator: session %d unreachable, will remove: %v", sub.ID(), err)
			atomic.AddUint64(&a.sendFailedTotal, 1)
			dead = append(dead, sub.ID())
			continue
		}
		atomic.AddUint64(&a.notifiedTotal, 1)
	}
	for _, id := range dead {
		a.remover.Remove(id)
	}
}
