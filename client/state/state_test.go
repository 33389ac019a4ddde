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

package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/clkmgr/proto"
)

func TestSeedBaselineDoesNotIncrementCounters(t *testing.T) {
	r := newRecord(1)
	r.Subscribe()
	r.SeedBaseline(&proto.PTPSnapshot{OffsetNS: 10}, nil, Bools{OffsetInRangePTP: true, Composite: true})

	c := r.DrainCounters()
	require.False(t, c.Any())

	snap := r.Snapshot()
	require.True(t, snap.HavePTP)
	require.Equal(t, int64(10), snap.PTP.OffsetNS)
	require.True(t, snap.Bools.Composite)
}

func TestApplyIncrementsOnlyMaskedTransitions(t *testing.T) {
	r := newRecord(1)
	r.Subscribe()
	r.SeedBaseline(&proto.PTPSnapshot{}, nil, Bools{})

	mask := proto.EventSyncedToGm | proto.EventAsCapable
	r.Apply(&proto.PTPSnapshot{}, nil, Bools{SyncedToGm: true, AsCapable: false, GmChanged: true}, mask)

	c := r.DrainCounters()
	require.EqualValues(t, 1, c.SyncedToGm)
	require.EqualValues(t, 0, c.AsCapable)
	// GmChanged flipped false->true, a change, but its bit is not in
	// mask, so it must not be counted.
	require.EqualValues(t, 0, c.GmChanged)
}

func TestApplyAlwaysTracksCompositeTransitions(t *testing.T) {
	r := newRecord(1)
	r.Subscribe()
	r.SeedBaseline(&proto.PTPSnapshot{}, nil, Bools{Composite: false})

	r.Apply(&proto.PTPSnapshot{}, nil, Bools{Composite: true}, proto.EventMask(0))

	c := r.DrainCounters()
	require.EqualValues(t, 1, c.Composite)
}

func TestSubscribeResetsCounters(t *testing.T) {
	r := newRecord(1)
	r.Subscribe()
	r.SeedBaseline(&proto.PTPSnapshot{}, nil, Bools{})
	r.Apply(&proto.PTPSnapshot{}, nil, Bools{AsCapable: true}, proto.EventAsCapable)
	require.True(t, r.DrainCounters().Any())

	r.Apply(&proto.PTPSnapshot{}, nil, Bools{AsCapable: false}, proto.EventAsCapable)
	r.Subscribe()
	require.False(t, r.DrainCounters().Any())
}

func TestDrainCountersIsZeroAfterDraining(t *testing.T) {
	r := newRecord(1)
	r.Subscribe()
	r.SeedBaseline(&proto.PTPSnapshot{}, nil, Bools{})
	r.Apply(&proto.PTPSnapshot{}, nil, Bools{AsCapable: true}, proto.EventAsCapable)

	first := r.DrainCounters()
	require.True(t, first.Any())
	second := r.DrainCounters()
	require.False(t, second.Any())
}

func TestWaitZeroBudgetPollsWithoutBlocking(t *testing.T) {
	r := newRecord(1)
	r.Subscribe()

	start := time.Now()
	_, any := r.Wait(0)
	require.False(t, any)
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitPositiveBudgetTimesOut(t *testing.T) {
	r := newRecord(1)
	r.Subscribe()

	start := time.Now()
	_, any := r.Wait(30 * time.Millisecond)
	require.False(t, any)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestWaitWakesOnApply(t *testing.T) {
	r := newRecord(1)
	r.Subscribe()
	r.SeedBaseline(&proto.PTPSnapshot{}, nil, Bools{})

	done := make(chan Counters, 1)
	go func() {
		c, _ := r.Wait(time.Second)
		done <- c
	}()

	time.Sleep(10 * time.Millisecond)
	r.Apply(&proto.PTPSnapshot{}, nil, Bools{AsCapable: true}, proto.EventAsCapable)

	select {
	case c := <-done:
		require.EqualValues(t, 1, c.AsCapable)
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake on Apply")
	}
}

func TestWaitNegativeBudgetWaitsForever(t *testing.T) {
	r := newRecord(1)
	r.Subscribe()
	r.SeedBaseline(&proto.PTPSnapshot{}, nil, Bools{})

	done := make(chan bool, 1)
	go func() {
		_, any := r.Wait(-1)
		done <- any
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before any counter was set")
	case <-time.After(50 * time.Millisecond):
	}

	r.Apply(&proto.PTPSnapshot{}, nil, Bools{GmChanged: true}, proto.EventGmChanged)
	select {
	case any := <-done:
		require.True(t, any)
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake after Apply")
	}
}

func TestRegistryRecordIsStableAcrossCalls(t *testing.T) {
	reg := NewRegistry()
	a := reg.Record(1)
	b := reg.Record(1)
	require.Same(t, a, b)

	_, ok := reg.Lookup(2)
	require.False(t, ok)
	c := reg.Record(2)
	got, ok := reg.Lookup(2)
	require.True(t, ok)
	require.Same(t, c, got)
}
