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

package proto

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestConnectRoundTrip(t *testing.T) {
	req := &ConnectMessage{Header: Header{AckKind: AckNone, SessionID: InvalidSessionID}}
	req.Header.SetClientID("worker-7")
	buf, err := req.Encode(make([]byte, codec4k))
	require.NoError(t, err)

	got, err := DecodeConnectMessage(buf)
	require.NoError(t, err)
	require.Equal(t, "worker-7", got.Header.ClientIDString())
	require.Equal(t, InvalidSessionID, got.Header.SessionID)

	reply := &ConnectMessage{
		Header: Header{AckKind: AckSuccess, SessionID: 12},
		TimeBases: []TimeBaseCfg{
			{TimeBaseIndex: 1, Name: "eth0", InterfaceName: "eth0", TransportSpecific: 1, DomainNumber: 0, HaveSys: true, HavePtp: true},
			{TimeBaseIndex: 2, Name: "eth1", InterfaceName: "eth1", HaveSys: true},
		},
	}
	buf, err = reply.Encode(make([]byte, codec4k))
	require.NoError(t, err)
	gotReply, err := DecodeConnectMessage(buf)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(reply.TimeBases, gotReply.TimeBases))
	require.Equal(t, AckSuccess, gotReply.Header.AckKind)
	require.Equal(t, uint16(12), gotReply.Header.SessionID)
}

func TestSubscribeRoundTripScenario6(t *testing.T) {
	// spec.md §8 scenario 6: session_id=12, timeBaseIndex=1, event_mask=0x1F,
	// composite_mask=0x07, one threshold (kind=GMOffset, upper=1000, lower=-1000).
	req := &SubscribeMessage{
		Header:             Header{AckKind: AckNone, SessionID: 12},
		TimeBaseIndex:      1,
		EventMask:          0x1F,
		CompositeEventMask: 0x07,
		Thresholds: []ThresholdEntry{
			{Kind: ThresholdGMOffset, Upper: 1000, Lower: -1000},
		},
	}
	buf, err := req.Encode(make([]byte, codec4k))
	require.NoError(t, err)

	got, err := DecodeSubscribeMessage(buf)
	require.NoError(t, err)
	require.Equal(t, req.TimeBaseIndex, got.TimeBaseIndex)
	require.Equal(t, req.EventMask, got.EventMask)
	require.Equal(t, req.CompositeEventMask, got.CompositeEventMask)
	require.Empty(t, cmp.Diff(req.Thresholds, got.Thresholds))
	require.Equal(t, uint16(12), got.Header.SessionID)
}

func TestSubscribeReplyRoundTrip(t *testing.T) {
	reply := &SubscribeMessage{
		Header:        Header{AckKind: AckSuccess, SessionID: 3},
		TimeBaseIndex: 1,
		Which:         WhichBoth,
		PTP: &PTPSnapshot{
			OffsetNS:             500,
			GMIdentity:           [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
			ASCapable:            true,
			SyncedToPrimaryClock: false,
			InstanceID:           1,
			SyncIntervalUS:       1000000,
		},
		Sys: &SysSnapshot{OffsetNS: -20, ReferenceID: 0xAABBCCDD, PollIntervalUS: 16000000},
	}
	buf, err := reply.Encode(make([]byte, codec4k))
	require.NoError(t, err)
	got, err := DecodeSubscribeMessage(buf)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(*reply.PTP, *got.PTP))
	require.Empty(t, cmp.Diff(*reply.Sys, *got.Sys))
}

func TestSubscribeUnknownIndexFailureAck(t *testing.T) {
	reply := &SubscribeMessage{
		Header:        Header{AckKind: AckFailure, SessionID: 3},
		TimeBaseIndex: 99,
	}
	buf, err := reply.Encode(make([]byte, codec4k))
	require.NoError(t, err)
	got, err := DecodeSubscribeMessage(buf)
	require.NoError(t, err)
	require.Equal(t, AckFailure, got.Header.AckKind)
	require.Equal(t, WhichClocks(0), got.Which)
}

func TestNotifyRoundTrip(t *testing.T) {
	n := &NotifyMessage{
		Header:        Header{SessionID: 7},
		TimeBaseIndex: 1,
		Which:         WhichPTP,
		PTP: &PTPSnapshot{
			OffsetNS:   1500,
			GMIdentity: [8]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x11},
			ASCapable:  true,
		},
	}
	buf, err := n.Encode(make([]byte, codec4k))
	require.NoError(t, err)
	got, err := DecodeNotifyMessage(buf)
	require.NoError(t, err)
	require.Equal(t, AckNone, got.Header.AckKind)
	require.Empty(t, cmp.Diff(*n.PTP, *got.PTP))
	require.Nil(t, got.Sys)
}

func TestUnknownMessageIDRejected(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = 0x7F // not a recognized msg_id
	_, err := PeekMessageID(buf)
	require.ErrorIs(t, err, ErrUnknownMessageID)

	_, err = DecodeConnectMessage(buf)
	require.ErrorIs(t, err, ErrUnknownMessageID)
}

func TestUnknownAckKindRejected(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(IDConnect)
	buf[1] = 0x7F // not a recognized ack_kind
	_, err := DecodeConnectMessage(buf)
	require.ErrorIs(t, err, ErrUnknownAckKind)
}

const codec4k = 4096
