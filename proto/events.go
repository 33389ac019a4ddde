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

import "github.com/facebook/clkmgr/codec"

// EventMask is a 32-bit bit-field of the recognized clock events.
type EventMask uint32

// Recognized event bits. OffsetInRange applies independently to the PTP
// and system-clock thresholds; SyncedToGm, AsCapable and GmChanged are
// PTP-only.
const (
	EventOffsetInRange EventMask = 1 << 0
	EventSyncedToGm     EventMask = 1 << 1
	EventAsCapable      EventMask = 1 << 2
	EventGmChanged      EventMask = 1 << 3
)

// Has reports whether e is set in the mask.
func (m EventMask) Has(e EventMask) bool { return m&e != 0 }

// ThresholdKind identifies which threshold a ThresholdEntry configures.
type ThresholdKind uint8

// Recognized threshold kinds.
const (
	ThresholdGMOffset  ThresholdKind = 0
	ThresholdSysOffset ThresholdKind = 1
)

// ThresholdEntry is one (lower, upper) window with both bounds
// exclusive: an offset is in range only when Lower < offset < Upper.
type ThresholdEntry struct {
	Kind  ThresholdKind
	Upper int32
	Lower int32
}

// Valid reports whether the threshold admission rule (upper > lower) holds.
func (t ThresholdEntry) Valid() bool { return t.Upper > t.Lower }

// WhichClocks marks which optional snapshot sections are present in a
// Notify or Subscribe-reply body.
type WhichClocks uint8

// Recognized presence bits.
const (
	WhichPTP WhichClocks = 0x01
	WhichSys WhichClocks = 0x02
	WhichBoth WhichClocks = WhichPTP | WhichSys
)

// PTPSnapshot is the latest PTP instance state for one time base.
type PTPSnapshot struct {
	OffsetNS             int64
	GMIdentity           [8]byte
	ASCapable            bool
	SyncedToPrimaryClock bool
	InstanceID           uint8
	SyncIntervalUS       int64
}

func (p *PTPSnapshot) encode(w *codec.Writer) error {
	if err := w.PutI64(p.OffsetNS); err != nil {
		return err
	}
	if err := w.PutFixedArray(p.GMIdentity[:], 8); err != nil {
		return err
	}
	if err := w.PutBool(p.ASCapable); err != nil {
		return err
	}
	if err := w.PutBool(p.SyncedToPrimaryClock); err != nil {
		return err
	}
	if err := w.PutU8(p.InstanceID); err != nil {
		return err
	}
	return w.PutI64(p.SyncIntervalUS)
}

func decodePTPSnapshot(r *codec.Reader) (PTPSnapshot, error) {
	var p PTPSnapshot
	var err error
	if p.OffsetNS, err = r.GetI64(); err != nil {
		return p, err
	}
	gm, err := r.GetFixedArray(8)
	if err != nil {
		return p, err
	}
	copy(p.GMIdentity[:], gm)
	if p.ASCapable, err = r.GetBool(); err != nil {
		return p, err
	}
	if p.SyncedToPrimaryClock, err = r.GetBool(); err != nil {
		return p, err
	}
	if p.InstanceID, err = r.GetU8(); err != nil {
		return p, err
	}
	if p.SyncIntervalUS, err = r.GetI64(); err != nil {
		return p, err
	}
	return p, nil
}

// SysSnapshot is the latest disciplined-system-clock state for one time base.
type SysSnapshot struct {
	OffsetNS       int64
	ReferenceID    uint32
	PollIntervalUS int64
}

func (s *SysSnapshot) encode(w *codec.Writer) error {
	if err := w.PutI64(s.OffsetNS); err != nil {
		return err
	}
	if err := w.PutU32(s.ReferenceID); err != nil {
		return err
	}
	return w.PutI64(s.PollIntervalUS)
}

func decodeSysSnapshot(r *codec.Reader) (SysSnapshot, error) {
	var s SysSnapshot
	var err error
	if s.OffsetNS, err = r.GetI64(); err != nil {
		return s, err
	}
	if s.ReferenceID, err = r.GetU32(); err != nil {
		return s, err
	}
	if s.PollIntervalUS, err = r.GetI64(); err != nil {
		return s, err
	}
	return s, nil
}
