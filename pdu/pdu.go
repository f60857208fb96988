// Package pdu encodes and decodes DICOM upper layer Protocol Data Units.
//
// Every PDU on the wire starts with a 6 byte header: type, a reserved byte
// and a big-endian length covering the rest of the PDU. Decode turns a
// complete PDU into one of the variant types below so the association and
// dispatch layers never look at raw bytes again.
package pdu

import (
	"fmt"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
)

// PDU types
const (
	TypeAssociateRQ byte = 0x01
	TypeAssociateAC byte = 0x02
	TypeAssociateRJ byte = 0x03
	TypePDataTF     byte = 0x04
	TypeReleaseRQ   byte = 0x05
	TypeReleaseRP   byte = 0x06
	TypeAbort       byte = 0x07
)

// Item types carried in A-ASSOCIATE-RQ/AC
const (
	itemApplicationContext        byte = 0x10
	itemPresentationContextRQ     byte = 0x20
	itemPresentationContextAC     byte = 0x21
	itemAbstractSyntax            byte = 0x30
	itemTransferSyntax            byte = 0x40
	itemUserInformation           byte = 0x50
	itemMaxLength                 byte = 0x51
	itemImplementationClassUID    byte = 0x52
	itemImplementationVersionName byte = 0x55
)

const (
	// HeaderLength is the size of the type/reserved/length prefix.
	HeaderLength = 6

	// ProtocolVersion is the only upper layer protocol version defined.
	ProtocolVersion uint16 = 0x0001

	// DefaultMaxPDULength is proposed when the caller does not configure one.
	DefaultMaxPDULength uint32 = 16384

	// MaxPresentationContexts is bounded by the odd 1 byte id space.
	MaxPresentationContexts = 128

	aeTitleLength        = 16
	associateFixedLength = 68
	maxItemLength        = 0xFFFF
)

// Result is the per presentation context outcome in an A-ASSOCIATE-AC.
type Result byte

const (
	ResultAcceptance                   Result = 0x00
	ResultUserRejection                Result = 0x01
	ResultNoReason                     Result = 0x02
	ResultAbstractSyntaxNotSupported   Result = 0x03
	ResultTransferSyntaxesNotSupported Result = 0x04
)

func (r Result) String() string {
	switch r {
	case ResultAcceptance:
		return "acceptance"
	case ResultUserRejection:
		return "user-rejection"
	case ResultNoReason:
		return "no-reason"
	case ResultAbstractSyntaxNotSupported:
		return "abstract-syntax-not-supported"
	case ResultTransferSyntaxesNotSupported:
		return "transfer-syntaxes-not-supported"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(r))
	}
}

// A-ABORT sources
const (
	AbortSourceServiceUser     byte = 0x00
	AbortSourceServiceProvider byte = 0x02
)

// A-ABORT reasons, meaningful only when the source is the service provider.
const (
	AbortReasonNotSpecified             byte = 0x00
	AbortReasonUnrecognizedPDU          byte = 0x01
	AbortReasonUnexpectedPDU            byte = 0x02
	AbortReasonUnrecognizedPDUParameter byte = 0x04
	AbortReasonUnexpectedPDUParameter   byte = 0x05
	AbortReasonInvalidPDUParameterValue byte = 0x06
)

// PDU is implemented by every variant type in this package.
type PDU interface {
	Type() byte
	isPDU()
}

// AssociateRQ is an A-ASSOCIATE-RQ.
type AssociateRQ struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []PresentationContextRQ
	UserInformation      UserInformation
}

// AssociateAC is an A-ASSOCIATE-AC. The AE titles echo the request.
type AssociateAC struct {
	ProtocolVersion      uint16
	CalledAETitle        string
	CallingAETitle       string
	ApplicationContext   string
	PresentationContexts []PresentationContextAC
	UserInformation      UserInformation
}

// PresentationContextRQ is one proposed (abstract syntax, transfer syntaxes) pair.
type PresentationContextRQ struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// PresentationContextAC answers one proposed context. TransferSyntax is set
// only when Result is ResultAcceptance.
type PresentationContextAC struct {
	ID             byte
	Result         Result
	TransferSyntax string
}

// UserInformation carries the user information sub-items this package understands.
// Empty strings are omitted on the wire.
type UserInformation struct {
	MaxPDULength              uint32
	ImplementationClassUID    string
	ImplementationVersionName string
}

// AssociateRJ is an A-ASSOCIATE-RJ.
type AssociateRJ struct {
	Result dicomerrors.AssociationRejectResult
	Source dicomerrors.AssociationRejectSource
	Reason dicomerrors.AssociationRejectReason
}

// ReleaseRQ is an A-RELEASE-RQ.
type ReleaseRQ struct{}

// ReleaseRP is an A-RELEASE-RP.
type ReleaseRP struct{}

// Abort is an A-ABORT.
type Abort struct {
	Source byte
	Reason byte
}

// PDataTF is a P-DATA-TF carrying one or more presentation data values.
type PDataTF struct {
	Values []PDV
}

// PDV is one presentation data value fragment.
type PDV struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

func (*AssociateRQ) Type() byte { return TypeAssociateRQ }
func (*AssociateAC) Type() byte { return TypeAssociateAC }
func (*AssociateRJ) Type() byte { return TypeAssociateRJ }
func (*PDataTF) Type() byte     { return TypePDataTF }
func (*ReleaseRQ) Type() byte   { return TypeReleaseRQ }
func (*ReleaseRP) Type() byte   { return TypeReleaseRP }
func (*Abort) Type() byte       { return TypeAbort }

func (*AssociateRQ) isPDU() {}
func (*AssociateAC) isPDU() {}
func (*AssociateRJ) isPDU() {}
func (*PDataTF) isPDU()     {}
func (*ReleaseRQ) isPDU()   {}
func (*ReleaseRP) isPDU()   {}
func (*Abort) isPDU()       {}

// TypeName returns the PS3.8 name of a PDU type.
func TypeName(pduType byte) string {
	switch pduType {
	case TypeAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case TypeAssociateAC:
		return "A-ASSOCIATE-AC"
	case TypeAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case TypePDataTF:
		return "P-DATA-TF"
	case TypeReleaseRQ:
		return "A-RELEASE-RQ"
	case TypeReleaseRP:
		return "A-RELEASE-RP"
	case TypeAbort:
		return "A-ABORT"
	default:
		return fmt.Sprintf("unknown(0x%02x)", pduType)
	}
}

// Accepted returns the contexts with an acceptance result.
func (ac *AssociateAC) Accepted() []PresentationContextAC {
	var accepted []PresentationContextAC
	for _, pc := range ac.PresentationContexts {
		if pc.Result == ResultAcceptance {
			accepted = append(accepted, pc)
		}
	}
	return accepted
}

// ControlHeader returns the message control header byte for the PDV.
func (v PDV) ControlHeader() byte {
	var h byte
	if v.Command {
		h |= 0x01
	}
	if v.Last {
		h |= 0x02
	}
	return h
}
