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

// Package proto implements the clkmgr proxy-client wire protocol: the
// common message header, the three message kinds (Connect, Subscribe,
// Notify) and their client- and proxy-originated bodies.
package proto

import (
	"fmt"

	"github.com/facebook/clkmgr/codec"
)

// TransportClientIDLen is the width of the zero-padded client id field
// carried in every message header.
const TransportClientIDLen = 512

// InvalidSessionID is the reserved session id meaning "no session" /
// "allocation failed".
const InvalidSessionID uint16 = 0xFFFF

// MessageID identifies the three wire message kinds.
type MessageID uint8

// Recognized message ids.
const (
	IDConnect   MessageID = 0
	IDSubscribe MessageID = 1
	IDNotify    MessageID = 2
)

func (id MessageID) String() string {
	switch id {
	case IDConnect:
		return "Connect"
	case IDSubscribe:
		return "Subscribe"
	case IDNotify:
		return "Notify"
	default:
		return fmt.Sprintf("MessageID(%d)", uint8(id))
	}
}

// AckKind tags whether a message is a request, a successful reply or a
// failed reply.
type AckKind uint8

// Recognized ack kinds.
const (
	AckNone    AckKind = 0
	AckSuccess AckKind = 1
	AckFailure AckKind = 2
)

func (a AckKind) String() string {
	switch a {
	case AckNone:
		return "None"
	case AckSuccess:
		return "Success"
	case AckFailure:
		return "Failure"
	default:
		return fmt.Sprintf("AckKind(%d)", uint8(a))
	}
}

// ErrUnknownMessageID is returned when a datagram's msg_id is not one of
// the recognized values.
var ErrUnknownMessageID = fmt.Errorf("proto: unknown msg_id")

// ErrUnknownAckKind is returned when a datagram's ack_kind is not one of
// the recognized values.
var ErrUnknownAckKind = fmt.Errorf("proto: unknown ack_kind")

// Header is the fixed preamble carried by every message.
type Header struct {
	MsgID     MessageID
	AckKind   AckKind
	SessionID uint16
	ClientID  [TransportClientIDLen]byte
}

// HeaderSize is the encoded byte length of Header.
const HeaderSize = 1 + 1 + 2 + 2 /* reserved */ + TransportClientIDLen

// ClientIDString returns the zero-padded client id field trimmed at the
// first NUL byte.
func (h *Header) ClientIDString() string {
	n := 0
	for n < len(h.ClientID) && h.ClientID[n] != 0 {
		n++
	}
	return string(h.ClientID[:n])
}

// SetClientID stores s into the zero-padded client id field.
func (h *Header) SetClientID(s string) {
	h.ClientID = [TransportClientIDLen]byte{}
	copy(h.ClientID[:], s)
}

func (h *Header) encode(w *codec.Writer) error {
	if err := w.PutU8(uint8(h.MsgID)); err != nil {
		return err
	}
	if err := w.PutU8(uint8(h.AckKind)); err != nil {
		return err
	}
	if err := w.PutU16(h.SessionID); err != nil {
		return err
	}
	if err := w.PutU16(0); err != nil { // reserved
		return err
	}
	return w.PutFixedArray(h.ClientID[:], TransportClientIDLen)
}

func decodeHeader(r *codec.Reader) (Header, error) {
	var h Header
	msgID, err := r.GetU8()
	if err != nil {
		return h, err
	}
	ackKind, err := r.GetU8()
	if err != nil {
		return h, err
	}
	sessionID, err := r.GetU16()
	if err != nil {
		return h, err
	}
	if _, err := r.GetU16(); err != nil { // reserved
		return h, err
	}
	clientID, err := r.GetFixedArray(TransportClientIDLen)
	if err != nil {
		return h, err
	}
	switch MessageID(msgID) {
	case IDConnect, IDSubscribe, IDNotify:
	default:
		return h, fmt.Errorf("%w: %d", ErrUnknownMessageID, msgID)
	}
	switch AckKind(ackKind) {
	case AckNone, AckSuccess, AckFailure:
	default:
		return h, fmt.Errorf("%w: %d", ErrUnknownAckKind, ackKind)
	}
	h.MsgID = MessageID(msgID)
	h.AckKind = AckKind(ackKind)
	h.SessionID = sessionID
	copy(h.ClientID[:], clientID)
	return h, nil
}

// TimeBaseCfg describes one configured time base as advertised to
// clients in a Connect reply.
type TimeBaseCfg struct {
	TimeBaseIndex      uint32
	Name               string
	InterfaceName      string
	TransportSpecific  uint8
	DomainNumber       uint8
	HaveSys            bool
	HavePtp            bool
}

func (c *TimeBaseCfg) encode(w *codec.Writer) error {
	if err := w.PutU32(c.TimeBaseIndex); err != nil {
		return err
	}
	if err := w.PutString(c.Name); err != nil {
		return err
	}
	if err := w.PutString(c.InterfaceName); err != nil {
		return err
	}
	if err := w.PutU8(c.TransportSpecific); err != nil {
		return err
	}
	if err := w.PutU8(c.DomainNumber); err != nil {
		return err
	}
	if err := w.PutBool(c.HaveSys); err != nil {
		return err
	}
	return w.PutBool(c.HavePtp)
}

func decodeTimeBaseCfg(r *codec.Reader) (TimeBaseCfg, error) {
	var c TimeBaseCfg
	var err error
	if c.TimeBaseIndex, err = r.GetU32(); err != nil {
		return c, err
	}
	if c.Name, err = r.GetString(); err != nil {
		return c, err
	}
	if c.InterfaceName, err = r.GetString(); err != nil {
		return c, err
	}
	if c.TransportSpecific, err = r.GetU8(); err != nil {
		return c, err
	}
	if c.DomainNumber, err = r.GetU8(); err != nil {
		return c, err
	}
	if c.HaveSys, err = r.GetBool(); err != nil {
		return c, err
	}
	if c.HavePtp, err = r.GetBool(); err != nil {
		return c, err
	}
	return c, nil
}
