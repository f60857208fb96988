// Package dimse reassembles DIMSE messages from P-DATA-TF fragments and
// dispatches them to command handlers.
package dimse

import (
	"encoding/binary"
	"fmt"
	"strings"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/types"
)

// Command group (0000) element numbers
const (
	tagGroupLength               = 0x0000
	tagAffectedSOPClassUID       = 0x0002
	tagRequestedSOPClassUID      = 0x0003
	tagCommandField              = 0x0100
	tagMessageID                 = 0x0110
	tagMessageIDBeingRespondedTo = 0x0120
	tagMoveDestination           = 0x0600
	tagPriority                  = 0x0700
	tagCommandDataSetType        = 0x0800
	tagStatus                    = 0x0900
	tagErrorComment              = 0x0902
	tagAffectedSOPInstanceUID    = 0x1000
)

// EncodeCommand encodes a DIMSE command set using Implicit VR Little Endian.
// Requests carry a message id, responses carry the id being responded to and
// a status.
func EncodeCommand(msg *types.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil command", dicomerrors.ErrInvalidMessage)
	}

	buf := make([]byte, 0, 256)

	// Command Group Length (0000,0000), patched once the group is complete
	buf = AppendImplicitElement(buf, 0x0000, tagGroupLength, make([]byte, 4))
	lengthPos := len(buf) - 4

	if msg.AffectedSOPClassUID != "" {
		buf = AppendImplicitElement(buf, 0x0000, tagAffectedSOPClassUID, padUID(msg.AffectedSOPClassUID))
	}
	if msg.RequestedSOPClassUID != "" {
		buf = AppendImplicitElement(buf, 0x0000, tagRequestedSOPClassUID, padUID(msg.RequestedSOPClassUID))
	}

	buf = AppendImplicitElement(buf, 0x0000, tagCommandField, uint16Value(msg.CommandField))

	if !msg.IsResponse() {
		buf = AppendImplicitElement(buf, 0x0000, tagMessageID, uint16Value(msg.MessageID))
	}
	if msg.IsResponse() || msg.CommandField == types.CCancelRQ {
		buf = AppendImplicitElement(buf, 0x0000, tagMessageIDBeingRespondedTo, uint16Value(msg.MessageIDBeingRespondedTo))
	}

	if msg.MoveDestination != "" {
		buf = AppendImplicitElement(buf, 0x0000, tagMoveDestination, padText(msg.MoveDestination))
	}

	if carriesPriority(msg.CommandField) {
		buf = AppendImplicitElement(buf, 0x0000, tagPriority, uint16Value(msg.Priority))
	}

	buf = AppendImplicitElement(buf, 0x0000, tagCommandDataSetType, uint16Value(msg.CommandDataSetType))

	if msg.IsResponse() {
		buf = AppendImplicitElement(buf, 0x0000, tagStatus, uint16Value(msg.Status))
	}
	if msg.ErrorComment != "" {
		buf = AppendImplicitElement(buf, 0x0000, tagErrorComment, padText(msg.ErrorComment))
	}

	if msg.AffectedSOPInstanceUID != "" {
		buf = AppendImplicitElement(buf, 0x0000, tagAffectedSOPInstanceUID, padUID(msg.AffectedSOPInstanceUID))
	}

	groupLength := uint32(len(buf) - lengthPos - 4)
	binary.LittleEndian.PutUint32(buf[lengthPos:lengthPos+4], groupLength)

	return buf, nil
}

func carriesPriority(commandField uint16) bool {
	switch commandField {
	case types.CStoreRQ, types.CFindRQ, types.CGetRQ, types.CMoveRQ:
		return true
	}
	return false
}

// AppendImplicitElement appends a DICOM element using Implicit VR (no VR field)
func AppendImplicitElement(buf []byte, group, element uint16, value []byte) []byte {
	buf = append(buf, byte(group), byte(group>>8))
	buf = append(buf, byte(element), byte(element>>8))
	length := uint32(len(value))
	buf = append(buf, byte(length), byte(length>>8), byte(length>>16), byte(length>>24))
	return append(buf, value...)
}

func uint16Value(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

// padUID pads a UID to even length with a trailing NUL.
func padUID(uid string) []byte {
	b := []byte(uid)
	if len(b)%2 == 1 {
		b = append(b, 0x00)
	}
	return b
}

// padText pads a string value to even length with a trailing space.
func padText(s string) []byte {
	b := []byte(s)
	if len(b)%2 == 1 {
		b = append(b, ' ')
	}
	return b
}

// DecodeCommand decodes a DIMSE command set. Elements outside group 0000 and
// unknown command elements are skipped; a truncated element or a missing
// command field is an error.
func DecodeCommand(data []byte) (*types.Message, error) {
	msg := &types.Message{
		CommandDataSetType: types.NoDataSetPresent,
	}
	haveCommandField := false

	offset := 0
	for offset < len(data) {
		if offset+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated element header at offset %d", dicomerrors.ErrInvalidMessage, offset)
		}
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		if uint64(length) > uint64(len(data)-offset-8) {
			return nil, fmt.Errorf("%w: element (%04x,%04x) length %d exceeds command set",
				dicomerrors.ErrInvalidMessage, group, element, length)
		}
		value := data[offset+8 : offset+8+int(length)]
		offset += 8 + int(length)

		if group != 0x0000 {
			continue
		}

		switch element {
		case tagAffectedSOPClassUID:
			msg.AffectedSOPClassUID = trimValue(value)
		case tagRequestedSOPClassUID:
			msg.RequestedSOPClassUID = trimValue(value)
		case tagCommandField:
			v, err := readUint16(element, value)
			if err != nil {
				return nil, err
			}
			msg.CommandField = v
			haveCommandField = true
		case tagMessageID:
			v, err := readUint16(element, value)
			if err != nil {
				return nil, err
			}
			msg.MessageID = v
		case tagMessageIDBeingRespondedTo:
			v, err := readUint16(element, value)
			if err != nil {
				return nil, err
			}
			msg.MessageIDBeingRespondedTo = v
		case tagMoveDestination:
			msg.MoveDestination = trimValue(value)
		case tagPriority:
			v, err := readUint16(element, value)
			if err != nil {
				return nil, err
			}
			msg.Priority = v
		case tagCommandDataSetType:
			v, err := readUint16(element, value)
			if err != nil {
				return nil, err
			}
			msg.CommandDataSetType = v
		case tagStatus:
			v, err := readUint16(element, value)
			if err != nil {
				return nil, err
			}
			msg.Status = v
		case tagErrorComment:
			msg.ErrorComment = trimValue(value)
		case tagAffectedSOPInstanceUID:
			msg.AffectedSOPInstanceUID = trimValue(value)
		}
	}

	if !haveCommandField {
		return nil, fmt.Errorf("%w: missing command field (0000,0100)", dicomerrors.ErrInvalidMessage)
	}
	return msg, nil
}

func readUint16(element uint16, value []byte) (uint16, error) {
	if len(value) != 2 {
		return 0, fmt.Errorf("%w: element (0000,%04x) has length %d, want 2",
			dicomerrors.ErrInvalidMessage, element, len(value))
	}
	return binary.LittleEndian.Uint16(value), nil
}

func trimValue(value []byte) string {
	return strings.TrimRight(string(value), "\x00 ")
}
