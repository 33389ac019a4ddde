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

package protocol

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/facebook/clkmgr/hostendian"
)

// store our PID as identity that we use to talk to ptp daemon
var identity PortIdentity

func init() {
	identity.PortNumber = uint16(os.Getpid())
}

// ManagementTLVHead Spec Table 58 - Management TLV fields
type ManagementTLVHead struct {
	TLVHead

	ManagementID ManagementID
}

// MgmtID returns ManagementID
func (p *ManagementTLVHead) MgmtID() ManagementID {
	return p.ManagementID
}

// ManagementMsgHead Spec Table 56 - Management message fields
type ManagementMsgHead struct {
	Header

	TargetPortIdentity   PortIdentity
	StartingBoundaryHops uint8
	BoundaryHops         uint8
	ActionField          Action
	Reserved             uint8
}

// Action returns ActionField
func (p *ManagementMsgHead) Action() Action {
	return p.ActionField
}

// Action indicate the action to be taken on receipt of the PTP message as defined in Table 57
type Action uint8

// actions as in Table 57 Values of the actionField
const (
	GET Action = iota
	SET
	RESPONSE
	COMMAND
	ACKNOWLEDGE
)

// ManagementID is type for Management IDs
type ManagementID uint16

// Management IDs we support, from Table 59 managementId values
const (
	IDNullPTPManagement        ManagementID = 0x0000
	IDClockDescription         ManagementID = 0x0001
	IDUserDescription          ManagementID = 0x0002
	IDSaveInNonVolatileStorage ManagementID = 0x0003
	IDResetNonVolatileStorage  ManagementID = 0x0004
	IDInitialize               ManagementID = 0x0005
	IDFaultLog                 ManagementID = 0x0006
	IDFaultLogReset            ManagementID = 0x0007

	IDDefaultDataSet        ManagementID = 0x2000
	IDCurrentDataSet        ManagementID = 0x2001
	IDParentDataSet         ManagementID = 0x2002
	IDTimePropertiesDataSet ManagementID = 0x2003
	IDPortDataSet           ManagementID = 0x2004

	// IDClockAccuracy is not part of the standard managementId table; linuxptp's
	// pmc doesn't expose it either. We use it as a clkmgr-private extension so the
	// proxy can poll clock accuracy without parsing the much larger DEFAULT_DATA_SET.
	IDClockAccuracy ManagementID = 0x2010
	// rest of Management IDs that we don't implement yet
)

// ManagementErrorID is an enum for possible management errors
type ManagementErrorID uint16

// Table 109 ManagementErrorID enumeration
const (
	ErrorResponseTooBig ManagementErrorID = 0x0001 // The requested operation could not fit in a single response message
	ErrorNoSuchID       ManagementErrorID = 0x0002 // The managementId is not recognized
	ErrorWrongLength    ManagementErrorID = 0x0003 // The managementId was identified but the length of the data was wrong
	ErrorWrongValue     ManagementErrorID = 0x0004 // The managementId and length were correct but one or more values were wrong
	ErrorNotSetable     ManagementErrorID = 0x0005 // Some of the variables in the set command were not updated because they are not configurable
	ErrorNotSupported   ManagementErrorID = 0x0006 // The requested operation is not supported in this PTP Instance
	ErrorUnpopulated    ManagementErrorID = 0x0007 // The targetPortIdentity of the PTP management message refers to an entity that is not present in the PTP Instance at the time of the request
	// some reserved and profile-specific ranges
	ErrorGeneralError ManagementErrorID = 0xFFFE // An error occurred that is not covered by other ManagementErrorID values
)

// ManagementErrorIDToString is a map from ManagementErrorID to string
var ManagementErrorIDToString = map[ManagementErrorID]string{
	ErrorResponseTooBig: "RESPONSE_TOO_BIG",
	ErrorNoSuchID:       "NO_SUCH_ID",
	ErrorWrongLength:    "WRONG_LENGTH",
	ErrorWrongValue:     "WRONG_VALUE",
	ErrorNotSetable:     "NOT_SETABLE",
	ErrorNotSupported:   "NOT_SUPPORTED",
	ErrorUnpopulated:    "UNPOPULATED",
	ErrorGeneralError:   "GENERAL_ERROR",
}

func (t ManagementErrorID) String() string {
	s := ManagementErrorIDToString[t]
	if s == "" {
		return fmt.Sprintf("UNKNOWN_ERROR_ID=%d", t)
	}
	return s
}

func (t ManagementErrorID) Error() string {
	return t.String()
}

// ManagementPacket is an interface to abstract all different management packets
type ManagementPacket interface {
	Packet

	Action() Action
	MgmtID() ManagementID
}

// mgmtIDer is implemented by every management TLV through its embedded ManagementTLVHead
type mgmtIDer interface {
	MgmtID() ManagementID
}

// Management is a generic management message: a common head plus whatever TLV
// the managementId in that TLV's head says it is. Unlike most packets in this
// package its body isn't a fixed-size struct, so it carries its own
// MarshalBinary/UnmarshalBinary rather than relying on generic binary.Read/Write.
type Management struct {
	ManagementMsgHead

	TLV TLV
}

// MgmtID returns the managementId of the wrapped TLV, or IDNullPTPManagement if TLV is nil or doesn't carry one
func (m *Management) MgmtID() ManagementID {
	if id, ok := m.TLV.(mgmtIDer); ok {
		return id.MgmtID()
	}
	return IDNullPTPManagement
}

// MarshalBinary converts packet to []bytes
func (m *Management) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &m.ManagementMsgHead); err != nil {
		return nil, fmt.Errorf("writing Management head: %w", err)
	}
	tlvBytes, err := marshalTLV(m.TLV)
	if err != nil {
		return nil, fmt.Errorf("writing Management TLV: %w", err)
	}
	buf.Write(tlvBytes)
	return buf.Bytes(), nil
}

// MarshalBinaryToBuf writes the marshaled packet to w
func (m *Management) MarshalBinaryToBuf(w io.Writer) error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// UnmarshalBinary parses []byte and populates struct fields
func (m *Management) UnmarshalBinary(data []byte) error {
	p, err := decodeMgmtPacket(data)
	if err != nil {
		return err
	}
	mgmt, ok := p.(*Management)
	if !ok {
		return fmt.Errorf("got %T while decoding Management, use %T for error responses", p, &ManagementMsgErrorStatus{})
	}
	*m = *mgmt
	return nil
}

// marshalTLV serializes a management TLV, preferring its own MarshalBinary
// implementation and falling back to a plain fixed-size struct encode for
// TLVs that don't need anything fancier.
func marshalTLV(tlv TLV) ([]byte, error) {
	if bm, ok := tlv.(encoding.BinaryMarshaler); ok {
		return bm.MarshalBinary()
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, tlv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CurrentDataSetTLV Spec Table 84 - CURRENT_DATA_SET management TLV data field
type CurrentDataSetTLV struct {
	ManagementTLVHead

	StepsRemoved     uint16
	OffsetFromMaster TimeInterval
	MeanPathDelay    TimeInterval
}

// MarshalBinary converts packet to []bytes
func (p *CurrentDataSetTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p.ManagementTLVHead); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.StepsRemoved); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.OffsetFromMaster); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.MeanPathDelay); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DefaultDataSetTLV Spec Table 69 - DEFAULT_DATA_SET management TLV data field
type DefaultDataSetTLV struct {
	ManagementTLVHead

	SoTSC         uint8
	NumberPorts   uint16
	Priority1     uint8
	ClockQuality  ClockQuality
	Priority2     uint8
	ClockIdentity ClockIdentity
	DomainNumber  uint8
}

// MarshalBinary converts packet to []bytes. A reserved byte follows SoTSC and
// another follows DomainNumber on the wire; neither carries any information
// so they aren't modeled as struct fields, only written/skipped as zero.
func (p *DefaultDataSetTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p.ManagementTLVHead); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.SoTSC); err != nil {
		return nil, err
	}
	buf.WriteByte(0) // reserved
	if err := binary.Write(&buf, binary.BigEndian, p.NumberPorts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.Priority1); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.ClockQuality); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.Priority2); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.ClockIdentity); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.DomainNumber); err != nil {
		return nil, err
	}
	buf.WriteByte(0) // reserved
	return buf.Bytes(), nil
}

// unmarshalDefaultDataSetBody reads everything after ManagementTLVHead
func unmarshalDefaultDataSetBody(p *DefaultDataSetTLV, b []byte) error {
	if len(b) < 19 {
		return fmt.Errorf("not enough data to decode DefaultDataSetTLV body")
	}
	p.SoTSC = b[0]
	p.NumberPorts = binary.BigEndian.Uint16(b[2:])
	p.Priority1 = b[4]
	p.ClockQuality.ClockClass = ClockClass(b[5])
	p.ClockQuality.ClockAccuracy = ClockAccuracy(b[6])
	p.ClockQuality.OffsetScaledLogVariance = binary.BigEndian.Uint16(b[7:])
	p.Priority2 = b[9]
	p.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[10:]))
	p.DomainNumber = b[18]
	return nil
}

// ParentDataSetTLV Spec Table 85 - PARENT_DATA_SET management TLV data field
type ParentDataSetTLV struct {
	ManagementTLVHead

	ParentPortIdentity                    PortIdentity
	ObservedParentOffsetScaledLogVariance uint16
	ObservedParentClockPhaseChangeRate    uint32
	GrandmasterPriority1                  uint8
	GrandmasterClockQuality               ClockQuality
	GrandmasterPriority2                  uint8
	GrandmasterIdentity                   ClockIdentity
}

// MarshalBinary converts packet to []bytes. parentStats and a reserved byte
// follow ParentPortIdentity on the wire; neither is exposed as a field, they
// are only written/skipped as zero.
func (p *ParentDataSetTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p.ManagementTLVHead); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.ParentPortIdentity); err != nil {
		return nil, err
	}
	buf.WriteByte(0) // PS
	buf.WriteByte(0) // reserved
	if err := binary.Write(&buf, binary.BigEndian, p.ObservedParentOffsetScaledLogVariance); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.ObservedParentClockPhaseChangeRate); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.GrandmasterPriority1); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.GrandmasterClockQuality); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.GrandmasterPriority2); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.GrandmasterIdentity); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalParentDataSetBody(p *ParentDataSetTLV, b []byte) error {
	if len(b) < 32 {
		return fmt.Errorf("not enough data to decode ParentDataSetTLV body")
	}
	p.ParentPortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[0:]))
	p.ParentPortIdentity.PortNumber = binary.BigEndian.Uint16(b[8:])
	// b[10] (PS) and b[11] (reserved) carry no information we expose
	p.ObservedParentOffsetScaledLogVariance = binary.BigEndian.Uint16(b[12:])
	p.ObservedParentClockPhaseChangeRate = binary.BigEndian.Uint32(b[14:])
	p.GrandmasterPriority1 = b[18]
	p.GrandmasterClockQuality.ClockClass = ClockClass(b[19])
	p.GrandmasterClockQuality.ClockAccuracy = ClockAccuracy(b[20])
	p.GrandmasterClockQuality.OffsetScaledLogVariance = binary.BigEndian.Uint16(b[21:])
	p.GrandmasterPriority2 = b[23]
	p.GrandmasterIdentity = ClockIdentity(binary.BigEndian.Uint64(b[24:]))
	return nil
}

// ClockAccuracyTLV is a clkmgr-private management TLV (managementId IDClockAccuracy)
// that reports only the grandmaster's clockAccuracy, so a poller that only cares
// about sync quality doesn't have to decode the full DEFAULT_DATA_SET.
type ClockAccuracyTLV struct {
	ManagementTLVHead

	ClockAccuracy ClockAccuracy
	Reserved      uint8
}

// MarshalBinary converts packet to []bytes
func (p *ClockAccuracyTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p.ManagementTLVHead); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.ClockAccuracy); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.Reserved); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ManagementErrorStatusTLV spec Table 108 MANAGEMENT_ERROR_STATUS TLV format
type ManagementErrorStatusTLV struct {
	TLVHead

	ManagementErrorID ManagementErrorID
	ManagementID      ManagementID
	Reserved          int32
	DisplayData       PTPText
}

// ManagementMsgErrorStatus is head + ManagementErrorStatusTLV
type ManagementMsgErrorStatus struct {
	ManagementMsgHead
	ManagementErrorStatusTLV
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *ManagementMsgErrorStatus) UnmarshalBinary(rawBytes []byte) error {
	reader := bytes.NewReader(rawBytes)
	be := binary.BigEndian
	if err := binary.Read(reader, be, &p.ManagementMsgHead); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus head: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.TLVHead); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus TLVHead: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.ManagementErrorID); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus ManagementErrorID: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.ManagementID); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus ManagementID: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.Reserved); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus Reserved: %w", err)
	}
	// packet can have trailing bytes, let's make sure we don't try to read past given length
	toRead := int(p.ManagementMsgHead.Header.MessageLength)
	toRead -= binary.Size(p.ManagementMsgHead)
	toRead -= binary.Size(p.ManagementErrorStatusTLV.TLVHead)
	toRead -= binary.Size(p.ManagementErrorStatusTLV.ManagementErrorID)
	toRead -= binary.Size(p.ManagementErrorStatusTLV.ManagementID)
	toRead -= binary.Size(p.ManagementErrorStatusTLV.Reserved)

	if reader.Len() == 0 || toRead <= 0 {
		// DisplayData is completely optional
		return nil
	}
	data := make([]byte, reader.Len())
	if _, err := io.ReadFull(reader, data); err != nil {
		return err
	}
	if err := p.DisplayData.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus DisplayData: %w", err)
	}
	return nil
}

// MarshalBinary converts packet to []bytes
func (p *ManagementMsgErrorStatus) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	be := binary.BigEndian
	if err := binary.Write(&buf, be, &p.ManagementMsgHead); err != nil {
		return nil, fmt.Errorf("writing ManagementMsgErrorStatus head: %w", err)
	}
	if err := binary.Write(&buf, be, &p.ManagementErrorStatusTLV.TLVHead); err != nil {
		return nil, fmt.Errorf("writing ManagementMsgErrorStatus TLVHead: %w", err)
	}
	if err := binary.Write(&buf, be, &p.ManagementErrorStatusTLV.ManagementErrorID); err != nil {
		return nil, fmt.Errorf("writing ManagementMsgErrorStatus ManagementErrorID: %w", err)
	}
	if err := binary.Write(&buf, be, &p.ManagementErrorStatusTLV.ManagementID); err != nil {
		return nil, fmt.Errorf("writing ManagementMsgErrorStatus ManagementID: %w", err)
	}
	if err := binary.Write(&buf, be, &p.ManagementErrorStatusTLV.Reserved); err != nil {
		return nil, fmt.Errorf("writing ManagementMsgErrorStatus Reserved: %w", err)
	}
	if p.DisplayData != "" {
		dd, err := p.DisplayData.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("writing ManagementMsgErrorStatus DisplayData: %w", err)
		}
		buf.Write(dd)
	}
	return buf.Bytes(), nil
}

// MarshalBinaryToBuf writes the marshaled packet to w
func (p *ManagementMsgErrorStatus) MarshalBinaryToBuf(w io.Writer) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// CurrentDataSetRequest prepares request packet for CURRENT_DATA_SET request
func CurrentDataSetRequest() *Management {
	return &Management{
		ManagementMsgHead: requestHead(IDCurrentDataSet),
		TLV: &ManagementTLVHead{
			TLVHead:      TLVHead{TLVType: TLVManagement, LengthField: 2},
			ManagementID: IDCurrentDataSet,
		},
	}
}

// DefaultDataSetRequest prepares request packet for DEFAULT_DATA_SET request
func DefaultDataSetRequest() *Management {
	return &Management{
		ManagementMsgHead: requestHead(IDDefaultDataSet),
		TLV: &ManagementTLVHead{
			TLVHead:      TLVHead{TLVType: TLVManagement, LengthField: 2},
			ManagementID: IDDefaultDataSet,
		},
	}
}

// ParentDataSetRequest prepares request packet for PARENT_DATA_SET request
func ParentDataSetRequest() *Management {
	return &Management{
		ManagementMsgHead: requestHead(IDParentDataSet),
		TLV: &ManagementTLVHead{
			TLVHead:      TLVHead{TLVType: TLVManagement, LengthField: 2},
			ManagementID: IDParentDataSet,
		},
	}
}

// ClockAccuracyRequest prepares request packet for the clkmgr-private CLOCK_ACCURACY request
func ClockAccuracyRequest() *Management {
	return &Management{
		ManagementMsgHead: requestHead(IDClockAccuracy),
		TLV: &ManagementTLVHead{
			TLVHead:      TLVHead{TLVType: TLVManagement, LengthField: 2},
			ManagementID: IDClockAccuracy,
		},
	}
}

// requestHead builds the common GET-request head shared by every management
// request we send. id is unused beyond documenting intent at call sites;
// every GET request we issue carries an empty-body TLV of the same shape.
func requestHead(_ ManagementID) ManagementMsgHead {
	headerSize := uint16(binary.Size(ManagementMsgHead{}))
	tlvHeadSize := uint16(binary.Size(TLVHead{}))
	return ManagementMsgHead{
		Header: Header{
			SdoIDAndMsgType:    NewSdoIDAndMsgType(MessageManagement, 0),
			Version:            Version,
			MessageLength:      headerSize + tlvHeadSize + 2, // TLVHead + ManagementID, no data
			SourcePortIdentity: identity,
			LogMessageInterval: MgmtLogMessageInterval,
		},
		TargetPortIdentity:   DefaultTargetPortIdentity,
		StartingBoundaryHops: 0,
		BoundaryHops:         0,
		ActionField:          GET,
	}
}

// decodeMgmtPacket decodes a raw Management message into the concrete packet
// it represents. A managementErrorStatus TLV decodes into
// *ManagementMsgErrorStatus; anything else decodes into *Management with TLV
// set to the concrete TLV type named by the managementId.
func decodeMgmtPacket(data []byte) (Packet, error) {
	head := ManagementMsgHead{}
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.BigEndian, &head); err != nil {
		return nil, err
	}

	tlvHead := ManagementTLVHead{}
	if err := binary.Read(r, binary.BigEndian, &tlvHead.TLVHead); err != nil {
		return nil, err
	}

	if tlvHead.TLVType == TLVManagementErrorStatus {
		errorPacket := new(ManagementMsgErrorStatus)
		if err := errorPacket.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("got Management Error in response but failed to decode it: %w", err)
		}
		return errorPacket, nil
	}

	if tlvHead.TLVType != TLVManagement {
		return nil, fmt.Errorf("got TLV type %q (0x%02x) instead of %q (0x%02x)", tlvHead.TLVType, uint16(tlvHead.TLVType), TLVManagement, uint16(TLVManagement))
	}

	if err := binary.Read(r, binary.BigEndian, &tlvHead.ManagementID); err != nil {
		return nil, err
	}

	body := make([]byte, r.Len())
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading management TLV body: %w", err)
	}

	tlv, err := decodeManagementTLV(tlvHead, body)
	if err != nil {
		return nil, err
	}
	return &Management{ManagementMsgHead: head, TLV: tlv}, nil
}

// timeStatusNPBody mirrors TimeStatusNPTLV's fields after ManagementTLVHead,
// used as a plain fixed-size struct so binary.Read can decode it directly.
type timeStatusNPBody struct {
	MasterOffsetNS             int64
	IngressTimeNS              int64
	CumulativeScaledRateOffset int32
	ScaledLastGmPhaseChange    int32
	GMTimeBaseIndicator        uint16
	LastGmPhaseChange          ScaledNS
	GMPresent                  int32
	GMIdentity                 ClockIdentity
}

func decodeManagementTLV(tlvHead ManagementTLVHead, body []byte) (TLV, error) {
	switch tlvHead.ManagementID {
	case IDCurrentDataSet:
		tlv := &CurrentDataSetTLV{ManagementTLVHead: tlvHead}
		r := bytes.NewReader(body)
		if err := binary.Read(r, binary.BigEndian, &tlv.StepsRemoved); err != nil {
			return nil, fmt.Errorf("decoding CurrentDataSetTLV StepsRemoved: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.OffsetFromMaster); err != nil {
			return nil, fmt.Errorf("decoding CurrentDataSetTLV OffsetFromMaster: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.MeanPathDelay); err != nil {
			return nil, fmt.Errorf("decoding CurrentDataSetTLV MeanPathDelay: %w", err)
		}
		return tlv, nil
	case IDDefaultDataSet:
		tlv := &DefaultDataSetTLV{ManagementTLVHead: tlvHead}
		if err := unmarshalDefaultDataSetBody(tlv, body); err != nil {
			return nil, fmt.Errorf("decoding DefaultDataSetTLV: %w", err)
		}
		return tlv, nil
	case IDParentDataSet:
		tlv := &ParentDataSetTLV{ManagementTLVHead: tlvHead}
		if err := unmarshalParentDataSetBody(tlv, body); err != nil {
			return nil, fmt.Errorf("decoding ParentDataSetTLV: %w", err)
		}
		return tlv, nil
	case IDClockAccuracy:
		if len(body) < 2 {
			return nil, fmt.Errorf("not enough data to decode ClockAccuracyTLV")
		}
		return &ClockAccuracyTLV{
			ManagementTLVHead: tlvHead,
			ClockAccuracy:     ClockAccuracy(body[0]),
			Reserved:          body[1],
		}, nil
	case IDTimeStatusNP:
		tlv := &TimeStatusNPTLV{ManagementTLVHead: tlvHead}
		var body2 timeStatusNPBody
		if err := binary.Read(bytes.NewReader(body), binary.BigEndian, &body2); err != nil {
			return nil, fmt.Errorf("decoding TimeStatusNPTLV: %w", err)
		}
		tlv.MasterOffsetNS = body2.MasterOffsetNS
		tlv.IngressTimeNS = body2.IngressTimeNS
		tlv.CumulativeScaledRateOffset = body2.CumulativeScaledRateOffset
		tlv.ScaledLastGmPhaseChange = body2.ScaledLastGmPhaseChange
		tlv.GMTimeBaseIndicator = body2.GMTimeBaseIndicator
		tlv.LastGmPhaseChange = body2.LastGmPhaseChange
		tlv.GMPresent = body2.GMPresent
		tlv.GMIdentity = body2.GMIdentity
		return tlv, nil
	case IDPortStatsNP:
		tlv := &PortStatsNPTLV{ManagementTLVHead: tlvHead}
		r := bytes.NewReader(body)
		if err := binary.Read(r, binary.BigEndian, &tlv.PortIdentity); err != nil {
			return nil, fmt.Errorf("decoding PortStatsNPTLV identity: %w", err)
		}
		// ptp4l reports PortStats in host byte order over the wire, unlike everything else
		if err := binary.Read(r, hostendian.Order, &tlv.PortStats); err != nil {
			return nil, fmt.Errorf("decoding PortStatsNPTLV stats: %w", err)
		}
		return tlv, nil
	case IDPortPropertiesNP:
		tlv := &PortPropertiesNPTLV{ManagementTLVHead: tlvHead}
		if len(body) < 12 {
			return nil, fmt.Errorf("not enough data to decode PortPropertiesNPTLV")
		}
		tlv.PortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(body[0:]))
		tlv.PortIdentity.PortNumber = binary.BigEndian.Uint16(body[8:])
		tlv.PortState = PortState(body[10])
		tlv.Timestamping = Timestamping(body[11])
		if err := tlv.Interface.UnmarshalBinary(body[12:]); err != nil {
			return nil, fmt.Errorf("decoding PortPropertiesNPTLV interface: %w", err)
		}
		return tlv, nil
	case IDPortServiceStatsNP:
		tlv := &PortServiceStatsNPTLV{ManagementTLVHead: tlvHead}
		r := bytes.NewReader(body)
		if err := binary.Read(r, binary.BigEndian, &tlv.PortIdentity); err != nil {
			return nil, fmt.Errorf("decoding PortServiceStatsNPTLV identity: %w", err)
		}
		if err := binary.Read(r, hostendian.Order, &tlv.PortServiceStats); err != nil {
			return nil, fmt.Errorf("decoding PortServiceStatsNPTLV stats: %w", err)
		}
		return tlv, nil
	case IDUnicastMasterTableNP:
		return decodeUnicastMasterTableNP(tlvHead, body)
	default:
		return nil, fmt.Errorf("unsupported management TLV 0x%x", tlvHead.ManagementID)
	}
}

// unicastMasterEntryFixedLen is the byte size of an UnicastMasterEntry up to
// and including Priority2, i.e. everything before the trailing PortAddress.
const unicastMasterEntryFixedLen = 18

func decodeUnicastMasterTableNP(tlvHead ManagementTLVHead, body []byte) (*UnicastMasterTableNPTLV, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("not enough data to decode UnicastMasterTableNP")
	}
	actualTableSize := binary.BigEndian.Uint16(body)
	pos := 2
	entries := make([]UnicastMasterEntry, 0, actualTableSize)
	for i := 0; i < int(actualTableSize); i++ {
		var e UnicastMasterEntry
		if err := e.UnmarshalBinary(body[pos:]); err != nil {
			return nil, fmt.Errorf("decoding UnicastMasterTableNP entry %d: %w", i, err)
		}
		entries = append(entries, e)
		addrStart := pos + unicastMasterEntryFixedLen
		if len(body) < addrStart+4 {
			return nil, fmt.Errorf("not enough data to decode UnicastMasterTableNP entry %d address", i)
		}
		addressLength := binary.BigEndian.Uint16(body[addrStart+2:])
		pos = addrStart + 4 + int(addressLength)
	}
	return &UnicastMasterTableNPTLV{
		ManagementTLVHead: tlvHead,
		UnicastMasterTable: UnicastMasterTable{
			ActualTableSize: actualTableSize,
			UnicastMasters:  entries,
		},
	}, nil
}
