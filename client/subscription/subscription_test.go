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

package subscription

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/facebook/clkmgr/client/state"
	"github.com/facebook/clkmgr/proto"
)

func TestEvaluateOffsetInRangeTransitions(t *testing.T) {
	sub, err := New(1, proto.EventOffsetInRange, 0, []proto.ThresholdEntry{
		{Kind: proto.ThresholdGMOffset, Upper: 1000, Lower: -1000},
	})
	require.NoError(t, err)

	rec := state.NewRegistry().Record(1)
	rec.Subscribe()

	offsets := []int64{500, 1500, 900}
	for _, off := range offsets {
		b := sub.Evaluate(&proto.PTPSnapshot{OffsetNS: off}, nil)
		rec.Apply(&proto.PTPSnapshot{OffsetNS: off}, nil, b, sub.EventMask)
	}

	c := rec.DrainCounters()
	require.EqualValues(t, 2, c.OffsetInRangePTP)
	require.True(t, sub.Evaluate(&proto.PTPSnapshot{OffsetNS: 900}, nil).OffsetInRangePTP)

	second := rec.DrainCounters()
	require.False(t, second.Any())
}

func TestEvaluateCompositeTransitions(t *testing.T) {
	sub, err := New(1, 0, proto.EventAsCapable|proto.EventSyncedToGm, nil)
	require.NoError(t, err)

	rec := state.NewRegistry().Record(1)
	rec.Subscribe()

	steps := []struct {
		asCapable, synced bool
	}{
		{true, false},
		{true, true},
		{true, false},
	}
	for _, st := range steps {
		snap := &proto.PTPSnapshot{ASCapable: st.asCapable, SyncedToPrimaryClock: st.synced}
		b := sub.Evaluate(snap, nil)
		rec.Apply(snap, nil, b, sub.EventMask|proto.EventAsCapable|proto.EventSyncedToGm)
	}

	c := rec.DrainCounters()
	require.EqualValues(t, 2, c.Composite)
}

func TestEvaluateGmChangedAlwaysComputed(t *testing.T) {
	sub, err := New(1, 0, 0, nil)
	require.NoError(t, err)

	first := sub.Evaluate(&proto.PTPSnapshot{GMIdentity: [8]byte{1}}, nil)
	require.False(t, first.GmChanged)

	second := sub.Evaluate(&proto.PTPSnapshot{GMIdentity: [8]byte{2}}, nil)
	require.True(t, second.GmChanged)

	third := sub.Evaluate(&proto.PTPSnapshot{GMIdentity: [8]byte{2}}, nil)
	require.False(t, third.GmChanged)
}

func TestEvaluateSysOffsetIndependentOfPTPMask(t *testing.T) {
	sub, err := New(1, proto.EventOffsetInRange, 0, []proto.ThresholdEntry{
		{Kind: proto.ThresholdSysOffset, Upper: 100, Lower: -100},
	})
	require.NoError(t, err)

	b := sub.Evaluate(nil, &proto.SysSnapshot{OffsetNS: 50})
	require.True(t, b.OffsetInRangeSys)
	require.False(t, b.OffsetInRangePTP)
}

func TestNewRejectsInvalidThreshold(t *testing.T) {
	_, err := New(1, 0, 0, []proto.ThresholdEntry{{Kind: proto.ThresholdGMOffset, Upper: -1000, Lower: 1000}})
	require.Error(t, err)
}

func TestEvaluateCarriesForwardOtherDomainOnSingleDomainNotify(t *testing.T) {
	sub, err := New(1, proto.EventOffsetInRange|proto.EventAsCapable|proto.EventSyncedToGm, 0, []proto.ThresholdEntry{
		{Kind: proto.ThresholdGMOffset, Upper: 1000, Lower: -1000},
		{Kind: proto.ThresholdSysOffset, Upper: 100, Lower: -100},
	})
	require.NoError(t, err)

	rec := state.NewRegistry().Record(1)
	rec.Subscribe()

	// A dual-source time base's Subscribe reply seeds both domains at
	// once, just as client.ClockManager.Subscribe does.
	ptpSnap := &proto.PTPSnapshot{OffsetNS: 500, ASCapable: true, SyncedToPrimaryClock: true}
	sysSnap := &proto.SysSnapshot{OffsetNS: 50}
	baseline := sub.Evaluate(ptpSnap, sysSnap)
	require.True(t, baseline.OffsetInRangePTP)
	require.True(t, baseline.OffsetInRangeSys)
	require.True(t, baseline.AsCapable)
	require.True(t, baseline.SyncedToGm)
	rec.SeedBaseline(ptpSnap, sysSnap, baseline)

	// A PTP-only Notify that changes nothing must not zero, and must not
	// flip, OffsetInRangeSys just because this call carried no Sys
	// snapshot: the monitor polls each source on its own goroutine, so
	// single-domain Notifies are the common case, not an edge case.
	b := sub.Evaluate(ptpSnap, nil)
	require.True(t, b.OffsetInRangeSys, "sys domain must be carried forward, not zeroed")
	rec.Apply(ptpSnap, nil, b, sub.EventMask)

	// Symmetrically, a Sys-only Notify must not zero the PTP-derived
	// booleans.
	b = sub.Evaluate(nil, sysSnap)
	require.True(t, b.OffsetInRangePTP, "PTP domain must be carried forward, not zeroed")
	require.True(t, b.AsCapable)
	require.True(t, b.SyncedToGm)
	rec.Apply(nil, sysSnap, b, sub.EventMask)

	// Nothing actually changed across any of these calls, so no counter
	// may have incremented.
	c := rec.DrainCounters()
	require.False(t, c.Any(), "spurious transition counted: %+v", c)
}

func TestCompositeEmptyMaskIsAlwaysFalse(t *testing.T) {
	sub, err := New(1, 0, 0, nil)
	require.NoError(t, err)
	b := sub.Evaluate(&proto.PTPSnapshot{ASCapable: true, SyncedToPrimaryClock: true}, nil)
	require.False(t, b.Composite)
}
