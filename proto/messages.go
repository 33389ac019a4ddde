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
	"fmt"

	"github.com/facebook/clkmgr/codec"
)

// ConnectMessage is the client->proxy Connect request and its
// proxy->client reply. The client-supplied identifier used to address
// the per-client tx queue travels in Header.ClientID; there is no
// additional request body.
type ConnectMessage struct {
	Header Header

	// Reply-only fields, meaningful when Header.AckKind != AckNone.
	TimeBases []TimeBaseCfg

	// LivenessWindowUS is the proxy-configured liveness window, in
	// microseconds: how long a client may go without a Notify before it
	// must probe the proxy, and the deadline that probe itself is held
	// to. Carried down at Connect time so every client in the process
	// uses the proxy's own configured value instead of a hardcoded one.
	LivenessWindowUS uint32
}

// Encode serializes m into buf, returning the bytes written.
func (m *ConnectMessage) Encode(buf []byte) ([]byte, error) {
	m.Header.MsgID = IDConnect
	w := codec.NewWriter(buf)
	if err := m.Header.encode(w); err != nil {
		return nil, err
	}
	if m.Header.AckKind != AckNone {
		if err := w.PutU32(m.LivenessWindowUS); err != nil {
			return nil, err
		}
		if err := w.PutU32(uint32(len(m.TimeBases))); err != nil {
			return nil, err
		}
		for i := range m.TimeBases {
			if err := m.TimeBases[i].encode(w); err != nil {
				return nil, err
			}
		}
	}
	return w.Bytes(), nil
}

// DecodeConnectMessage parses buf as a ConnectMessage.
func DecodeConnectMessage(buf []byte) (*ConnectMessage, error) {
	r := codec.NewReader(buf)
	h, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	if h.MsgID != IDConnect {
		return nil, fmt.Errorf("%w: got %s", ErrUnknownMessageID, h.MsgID)
	}
	m := &ConnectMessage{Header: h}
	if h.AckKind != AckNone {
		livenessWindowUS, err := r.GetU32()
		if err != nil {
			return nil, err
		}
		m.LivenessWindowUS = livenessWindowUS
		count, err := r.GetU32()
		if err != nil {
			return nil, err
		}
		m.TimeBases = make([]TimeBaseCfg, count)
		for i := range m.TimeBases {
			cfg, err := decodeTimeBaseCfg(r)
			if err != nil {
				return nil, err
			}
			m.TimeBases[i] = cfg
		}
	}
	return m, nil
}

// SubscribeMessage is the client->proxy Subscribe request and its
// proxy->client reply (the current aggregated snapshot for the
// requested time base).
type SubscribeMessage struct {
	Header Header

	TimeBaseIndex      uint32
	EventMask          EventMask
	CompositeEventMask EventMask
	Thresholds         []ThresholdEntry

	// Reply-only fields, meaningful when Header.AckKind != AckNone.
	Which WhichClocks
	PTP   *PTPSnapshot
	Sys   *SysSnapshot
}

// Encode serializes m into buf, returning the bytes written.
func (m *SubscribeMessage) Encode(buf []byte) ([]byte, error) {
	m.Header.MsgID = IDSubscribe
	w := codec.NewWriter(buf)
	if err := m.Header.encode(w); err != nil {
		return nil, err
	}
	if m.Header.AckKind == AckNone {
		if err := w.PutU32(m.TimeBaseIndex); err != nil {
			return nil, err
		}
		if err := w.PutU32(uint32(m.EventMask)); err != nil {
			return nil, err
		}
		if err := w.PutU32(uint32(m.CompositeEventMask)); err != nil {
			return nil, err
		}
		if err := w.PutU32(uint32(len(m.Thresholds))); err != nil {
			return nil, err
		}
		for _, th := range m.Thresholds {
			if err := w.PutU8(uint8(th.Kind)); err != nil {
				return nil, err
			}
			if err := w.PutI32(th.Upper); err != nil {
				return nil, err
			}
			if err := w.PutI32(th.Lower); err != nil {
				return nil, err
			}
		}
	} else {
		if err := w.PutU32(m.TimeBaseIndex); err != nil {
			return nil, err
		}
		if err := w.PutU8(uint8(m.Which)); err != nil {
			return nil, err
		}
		if m.Which&WhichPTP != 0 {
			if m.PTP == nil {
				return nil, fmt.Errorf("proto: Which marks PTP present but PTP snapshot is nil")
			}
			if err := m.PTP.encode(w); err != nil {
				return nil, err
			}
		}
		if m.Which&WhichSys != 0 {
			if m.Sys == nil {
				return nil, fmt.Errorf("proto: Which marks Sys present but Sys snapshot is nil")
			}
			if err := m.Sys.encode(w); err != nil {
				return nil, err
			}
		}
	}
	return w.Bytes(), nil
}

// DecodeSubscribeMessage parses buf as a SubscribeMessage.
func DecodeSubscribeMessage(buf []byte) (*SubscribeMessage, error) {
	r := codec.NewReader(buf)
	h, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	if h.MsgID != IDSubscribe {
		return nil, fmt.Errorf("%w: got %s", ErrUnknownMessageID, h.MsgID)
	}
	m := &SubscribeMessage{Header: h}
	if m.TimeBaseIndex, err = r.GetU32(); err != nil {
		return nil, err
	}
	if h.AckKind == AckNone {
		mask, err := r.GetU32()
		if err != nil {
			return nil, err
		}
		m.EventMask = EventMask(mask)
		cmask, err := r.GetU32()
		if err != nil {
			return nil, err
		}
		m.CompositeEventMask = EventMask(cmask)
		count, err := r.GetU32()
		if err != nil {
			return nil, err
		}
		m.Thresholds = make([]ThresholdEntry, count)
		for i := range m.Thresholds {
			kind, err := r.GetU8()
			if err != nil {
				return nil, err
			}
			upper, err := r.GetI32()
			if err != nil {
				return nil, err
			}
			lower, err := r.GetI32()
			if err != nil {
				return nil, err
			}
			m.Thresholds[i] = ThresholdEntry{Kind: ThresholdKind(kind), Upper: upper, Lower: lower}
		}
	} else {
		which, err := r.GetU8()
		if err != nil {
			return nil, err
		}
		m.Which = WhichClocks(which)
		if m.Which&WhichPTP != 0 {
			ptp, err := decodePTPSnapshot(r)
			if err != nil {
				return nil, err
			}
			m.PTP = &ptp
		}
		if m.Which&WhichSys != 0 {
			sys, err := decodeSysSnapshot(r)
			if err != nil {
				return nil, err
			}
			m.Sys = &sys
		}
	}
	return m, nil
}

// NotifyMessage is the proxy->client push of the newest snapshot for
// one time base. There is no reply; Header.AckKind is always AckNone.
type NotifyMessage struct {
	Header Header

	TimeBaseIndex uint32
	Which         WhichClocks
	PTP           *PTPSnapshot
	Sys           *SysSnapshot
}

// Encode serializes m into buf, returning the bytes written.
func (m *NotifyMessage) Encode(buf []byte) ([]byte, error) {
	m.Header.MsgID = IDNotify
	m.Header.AckKind = AckNone
	w := codec.NewWriter(buf)
	if err := m.Header.encode(w); err != nil {
		return nil, err
	}
	if err := w.PutU32(m.TimeBaseIndex); err != nil {
		return nil, err
	}
	if err := w.PutU8(uint8(m.Which)); err != nil {
		return nil, err
	}
	if m.Which&WhichPTP != 0 {
		if m.PTP == nil {
			return nil, fmt.Errorf("proto: Which marks PTP present but PTP snapshot is nil")
		}
		if err := m.PTP.encode(w); err != nil {
			return nil, err
		}
	}
	if m.Which&WhichSys != 0 {
		if m.Sys == nil {
			return nil, fmt.Errorf("proto: Which marks Sys present but Sys snapshot is nil")
		}
		if err := m.Sys.encode(w); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// DecodeNotifyMessage parses buf as a NotifyMessage.
func DecodeNotifyMessage(buf []byte) (*NotifyMessage, error) {
	r := codec.NewReader(buf)
	h, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	if h.MsgID != IDNotify {
		return nil, fmt.Errorf("%w: got %s", ErrUnknownMessageID, h.MsgID)
	}
	m := &NotifyMessage{Header: h}
	if m.TimeBaseIndex, err = r.GetU32(); err != nil {
		return nil, err
	}
	which, err := r.GetU8()
	if err != nil {
		return nil, err
	}
	m.Which = WhichClocks(which)
	if m.Which&WhichPTP != 0 {
		ptp, err := decodePTPSnapshot(r)
		if err != nil {
			return nil, err
		}
		m.PTP = &ptp
	}
	if m.Which&WhichSys != 0 {
		sys, err := decodeSysSnapshot(r)
		if err != nil {
			return nil, err
		}
		m.Sys = &sys
	}
	return m, nil
}

// PeekMessageID decodes just enough of buf to dispatch to the right
// handler without fully parsing the body.
func PeekMessageID(buf []byte) (MessageID, error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("%w: empty datagram", ErrUnknownMessageID)
	}
	id := MessageID(buf[0])
	switch id {
	case IDConnect, IDSubscribe, IDNotify:
		return id, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownMessageID, buf[0])
	}
}
