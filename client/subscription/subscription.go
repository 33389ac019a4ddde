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

// Package subscription evaluates the booleans a Subscription's event
// mask, composite mask and thresholds derive from a raw PTP/system
// snapshot, and folds the result into a client/state.Record.
package subscription

import (
	"fmt"

	"github.com/facebook/clkmgr/client/state"
	"github.com/facebook/clkmgr/proto"
)

// Subscription is one client's view of one time base: the masks and
// thresholds it asked the proxy to evaluate against, plus the bit of
// evaluator state (the previous grandmaster identity) that persists
// across notifications.
type Subscription struct {
	TimeBaseIndex      uint32
	EventMask          proto.EventMask
	CompositeEventMask proto.EventMask
	Thresholds         []proto.ThresholdEntry

	gmOffset   proto.ThresholdEntry
	haveGM     bool
	sysOffset  proto.ThresholdEntry
	haveSys    bool
	prevGM     [8]byte
	havePrevGM bool

	// lastBools carries forward whichever domain's booleans the most
	// recent call didn't touch: a PTP-only Notify must not zero the
	// sys-derived fields, and a sys-only Notify must not zero the
	// PTP-derived ones.
	lastBools state.Bools
}

// New builds a Subscription from the wire-level request fields,
// indexing the two threshold kinds clkmgr recognizes for fast lookup on
// every Notify.
func New(timeBaseIndex uint32, eventMask, compositeMask proto.EventMask, thresholds []proto.ThresholdEntry) (*Subscription, error) {
	s := &Subscription{
		TimeBaseIndex:      timeBaseIndex,
		EventMask:          eventMask,
		CompositeEventMask: compositeMask,
		Thresholds:         thresholds,
	}
	for _, th := range thresholds {
		if !th.Valid() {
			return nil, fmt.Errorf("subscription: threshold kind %d has upper %d <= lower %d", th.Kind, th.Upper, th.Lower)
		}
		switch th.Kind {
		case proto.ThresholdGMOffset:
			s.gmOffset, s.haveGM = th, true
		case proto.ThresholdSysOffset:
			s.sysOffset, s.haveSys = th, true
		}
	}
	return s, nil
}

// Evaluate computes the booleans for one received snapshot pair. A
// Notify commonly carries only one domain (PTP or system-clock) since
// the proxy polls each source independently; the domain absent from
// this call keeps whatever it was last computed as, rather than
// zeroing. gmChanged is always computed against whatever grandmaster
// identity the previous call saw (or, on the very first call, is
// reported false).
func (s *Subscription) Evaluate(ptp *proto.PTPSnapshot, sys *proto.SysSnapshot) state.Bools {
	b := s.lastBools

	if ptp != nil {
		if s.haveGM {
			b.OffsetInRangePTP = inRange(ptp.OffsetNS, s.gmOffset)
		}
		b.AsCapable = ptp.ASCapable
		b.SyncedToGm = ptp.SyncedToPrimaryClock
		if s.havePrevGM {
			b.GmChanged = ptp.GMIdentity != s.prevGM
		} else {
			b.GmChanged = false
		}
		s.prevGM = ptp.GMIdentity
		s.havePrevGM = true
	}

	if sys != nil && s.haveSys {
		b.OffsetInRangeSys = inRange(sys.OffsetNS, s.sysOffset)
	}

	b.Composite = s.composite(b)
	s.lastBools = b
	return b
}

// composite ANDs together every boolean whose bit is set in the
// composite mask. The mask is PTP-only and restricted to
// {AsCapable, SyncedToGm, OffsetInRange}; an empty mask is always false.
func (s *Subscription) composite(b state.Bools) bool {
	if s.CompositeEventMask == 0 {
		return false
	}
	result := true
	if s.CompositeEventMask.Has(proto.EventOffsetInRange) {
		result = result && b.OffsetInRangePTP
	}
	if s.CompositeEventMask.Has(proto.EventSyncedToGm) {
		result = result && b.SyncedToGm
	}
	if s.CompositeEventMask.Has(proto.EventAsCapable) {
		result = result && b.AsCapable
	}
	return result
}

// inRange implements the strict, exclusive-boundary admission rule:
// offset == lower or offset == upper is out of range.
func inRange(offsetNS int64, th proto.ThresholdEntry) bool {
	return int64(th.Lower) < offsetNS && offsetNS < int64(th.Upper)
}
