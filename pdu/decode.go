package pdu

import (
	"encoding/binary"
	"strings"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
)

// Decode parses one complete PDU, header included. Any framing violation is
// reported as *errors.MalformedPDUError.
func Decode(data []byte) (PDU, error) {
	if len(data) < HeaderLength {
		return nil, dicomerrors.NewMalformedPDUError(0, "short header: %d bytes", len(data))
	}

	pduType := data[0]
	length := binary.BigEndian.Uint32(data[2:6])
	body := data[HeaderLength:]
	if uint64(length) != uint64(len(body)) {
		return nil, dicomerrors.NewMalformedPDUError(pduType,
			"declared length %d does not match remaining %d bytes", length, len(body))
	}

	return decodeBody(pduType, body)
}

func decodeBody(pduType byte, body []byte) (PDU, error) {
	switch pduType {
	case TypeAssociateRQ:
		return decodeAssociateRQ(body)
	case TypeAssociateAC:
		return decodeAssociateAC(body)
	case TypeAssociateRJ:
		if len(body) != 4 {
			return nil, dicomerrors.NewMalformedPDUError(pduType, "body is %d bytes, want 4", len(body))
		}
		return &AssociateRJ{
			Result: dicomerrors.AssociationRejectResult(body[1]),
			Source: dicomerrors.AssociationRejectSource(body[2]),
			Reason: dicomerrors.AssociationRejectReason(body[3]),
		}, nil
	case TypePDataTF:
		return decodePDataTF(body)
	case TypeReleaseRQ:
		if len(body) != 4 {
			return nil, dicomerrors.NewMalformedPDUError(pduType, "body is %d bytes, want 4", len(body))
		}
		return &ReleaseRQ{}, nil
	case TypeReleaseRP:
		if len(body) != 4 {
			return nil, dicomerrors.NewMalformedPDUError(pduType, "body is %d bytes, want 4", len(body))
		}
		return &ReleaseRP{}, nil
	case TypeAbort:
		if len(body) != 4 {
			return nil, dicomerrors.NewMalformedPDUError(pduType, "body is %d bytes, want 4", len(body))
		}
		return &Abort{Source: body[2], Reason: body[3]}, nil
	default:
		return nil, dicomerrors.NewMalformedPDUError(pduType, "unknown PDU type")
	}
}

type item struct {
	itemType byte
	value    []byte
}

// splitItems walks a run of type/reserved/length items. Every item must fit
// inside data.
func splitItems(pduType byte, data []byte, parent string) ([]item, error) {
	var items []item
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, dicomerrors.NewMalformedPDUError(pduType,
				"truncated item header in %s at offset %d", parent, offset)
		}
		itemType := data[offset]
		itemLength := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		valueStart := offset + 4
		valueEnd := valueStart + itemLength
		if valueEnd > len(data) {
			return nil, dicomerrors.NewMalformedPDUError(pduType,
				"item 0x%02x length %d exceeds %s", itemType, itemLength, parent)
		}
		items = append(items, item{itemType: itemType, value: data[valueStart:valueEnd]})
		offset = valueEnd
	}
	return items, nil
}

type associateHeader struct {
	version        uint16
	calledAETitle  string
	callingAETitle string
}

func decodeAssociateHeader(pduType byte, body []byte) (associateHeader, []item, error) {
	if len(body) < associateFixedLength {
		return associateHeader{}, nil, dicomerrors.NewMalformedPDUError(pduType,
			"body is %d bytes, shorter than the %d byte fixed part", len(body), associateFixedLength)
	}
	hdr := associateHeader{
		version:        binary.BigEndian.Uint16(body[0:2]),
		calledAETitle:  trimAETitle(body[4:20]),
		callingAETitle: trimAETitle(body[20:36]),
	}
	items, err := splitItems(pduType, body[associateFixedLength:], "PDU")
	return hdr, items, err
}

func decodeAssociateRQ(body []byte) (PDU, error) {
	hdr, items, err := decodeAssociateHeader(TypeAssociateRQ, body)
	if err != nil {
		return nil, err
	}

	rq := &AssociateRQ{
		ProtocolVersion: hdr.version,
		CalledAETitle:   hdr.calledAETitle,
		CallingAETitle:  hdr.callingAETitle,
	}

	seen := make(map[byte]bool)
	var haveAppContext, haveUserInfo bool
	for _, it := range items {
		switch it.itemType {
		case itemApplicationContext:
			rq.ApplicationContext = normalizeUID(it.value)
			haveAppContext = true
		case itemPresentationContextRQ:
			pc, err := decodePresentationContextRQ(it.value)
			if err != nil {
				return nil, err
			}
			if seen[pc.ID] {
				return nil, dicomerrors.NewMalformedPDUError(TypeAssociateRQ,
					"duplicate presentation context id %d", pc.ID)
			}
			seen[pc.ID] = true
			rq.PresentationContexts = append(rq.PresentationContexts, pc)
		case itemUserInformation:
			ui, err := decodeUserInformation(TypeAssociateRQ, it.value)
			if err != nil {
				return nil, err
			}
			rq.UserInformation = ui
			haveUserInfo = true
		default:
			return nil, dicomerrors.NewMalformedPDUError(TypeAssociateRQ,
				"unknown item type 0x%02x", it.itemType)
		}
	}

	if !haveAppContext {
		return nil, dicomerrors.NewMalformedPDUError(TypeAssociateRQ, "missing application context item")
	}
	if len(rq.PresentationContexts) == 0 {
		return nil, dicomerrors.NewMalformedPDUError(TypeAssociateRQ, "no presentation context items")
	}
	if !haveUserInfo {
		return nil, dicomerrors.NewMalformedPDUError(TypeAssociateRQ, "missing user information item")
	}
	return rq, nil
}

func decodePresentationContextRQ(data []byte) (PresentationContextRQ, error) {
	if len(data) < 4 {
		return PresentationContextRQ{}, dicomerrors.NewMalformedPDUError(TypeAssociateRQ,
			"presentation context item too short: %d", len(data))
	}

	pc := PresentationContextRQ{ID: data[0]}
	if pc.ID == 0 || pc.ID%2 == 0 {
		return pc, dicomerrors.NewMalformedPDUError(TypeAssociateRQ,
			"presentation context id %d is not odd", pc.ID)
	}

	subItems, err := splitItems(TypeAssociateRQ, data[4:], "presentation context")
	if err != nil {
		return pc, err
	}
	for _, sub := range subItems {
		switch sub.itemType {
		case itemAbstractSyntax:
			if pc.AbstractSyntax != "" {
				return pc, dicomerrors.NewMalformedPDUError(TypeAssociateRQ,
					"presentation context %d has more than one abstract syntax", pc.ID)
			}
			pc.AbstractSyntax = normalizeUID(sub.value)
		case itemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, normalizeUID(sub.value))
		default:
			return pc, dicomerrors.NewMalformedPDUError(TypeAssociateRQ,
				"presentation context %d has unknown sub-item 0x%02x", pc.ID, sub.itemType)
		}
	}

	if pc.AbstractSyntax == "" {
		return pc, dicomerrors.NewMalformedPDUError(TypeAssociateRQ,
			"presentation context %d missing abstract syntax", pc.ID)
	}
	if len(pc.TransferSyntaxes) == 0 {
		return pc, dicomerrors.NewMalformedPDUError(TypeAssociateRQ,
			"presentation context %d missing transfer syntax", pc.ID)
	}
	return pc, nil
}

func decodeAssociateAC(body []byte) (PDU, error) {
	hdr, items, err := decodeAssociateHeader(TypeAssociateAC, body)
	if err != nil {
		return nil, err
	}

	ac := &AssociateAC{
		ProtocolVersion: hdr.version,
		CalledAETitle:   hdr.calledAETitle,
		CallingAETitle:  hdr.callingAETitle,
	}

	seen := make(map[byte]bool)
	var haveAppContext, haveUserInfo bool
	for _, it := range items {
		switch it.itemType {
		case itemApplicationContext:
			ac.ApplicationContext = normalizeUID(it.value)
			haveAppContext = true
		case itemPresentationContextAC:
			pc, err := decodePresentationContextAC(it.value)
			if err != nil {
				return nil, err
			}
			if seen[pc.ID] {
				return nil, dicomerrors.NewMalformedPDUError(TypeAssociateAC,
					"duplicate presentation context id %d", pc.ID)
			}
			seen[pc.ID] = true
			ac.PresentationContexts = append(ac.PresentationContexts, pc)
		case itemUserInformation:
			ui, err := decodeUserInformation(TypeAssociateAC, it.value)
			if err != nil {
				return nil, err
			}
			ac.UserInformation = ui
			haveUserInfo = true
		default:
			return nil, dicomerrors.NewMalformedPDUError(TypeAssociateAC,
				"unknown item type 0x%02x", it.itemType)
		}
	}

	if !haveAppContext {
		return nil, dicomerrors.NewMalformedPDUError(TypeAssociateAC, "missing application context item")
	}
	if !haveUserInfo {
		return nil, dicomerrors.NewMalformedPDUError(TypeAssociateAC, "missing user information item")
	}
	return ac, nil
}

func decodePresentationContextAC(data []byte) (PresentationContextAC, error) {
	if len(data) < 4 {
		return PresentationContextAC{}, dicomerrors.NewMalformedPDUError(TypeAssociateAC,
			"presentation context item too short: %d", len(data))
	}

	pc := PresentationContextAC{ID: data[0], Result: Result(data[2])}
	subItems, err := splitItems(TypeAssociateAC, data[4:], "presentation context")
	if err != nil {
		return pc, err
	}

	var transferSyntaxes []string
	for _, sub := range subItems {
		if sub.itemType != itemTransferSyntax {
			return pc, dicomerrors.NewMalformedPDUError(TypeAssociateAC,
				"presentation context %d has unknown sub-item 0x%02x", pc.ID, sub.itemType)
		}
		transferSyntaxes = append(transferSyntaxes, normalizeUID(sub.value))
	}

	if pc.Result == ResultAcceptance {
		if len(transferSyntaxes) != 1 || transferSyntaxes[0] == "" {
			return pc, dicomerrors.NewMalformedPDUError(TypeAssociateAC,
				"accepted presentation context %d carries %d transfer syntaxes, want 1", pc.ID, len(transferSyntaxes))
		}
		pc.TransferSyntax = transferSyntaxes[0]
	}
	// Rejected contexts may carry a meaningless transfer syntax sub-item; it is dropped.
	return pc, nil
}

func decodeUserInformation(pduType byte, data []byte) (UserInformation, error) {
	var ui UserInformation
	subItems, err := splitItems(pduType, data, "user information")
	if err != nil {
		return ui, err
	}

	haveMaxLength := false
	for _, sub := range subItems {
		switch sub.itemType {
		case itemMaxLength:
			if len(sub.value) != 4 {
				return ui, dicomerrors.NewMalformedPDUError(pduType,
					"maximum length sub-item is %d bytes, want 4", len(sub.value))
			}
			ui.MaxPDULength = binary.BigEndian.Uint32(sub.value)
			haveMaxLength = true
		case itemImplementationClassUID:
			ui.ImplementationClassUID = normalizeUID(sub.value)
		case itemImplementationVersionName:
			ui.ImplementationVersionName = strings.TrimRight(string(sub.value), "\x00 ")
		}
		// Extended negotiation sub-items (roles, async ops, identity) are skipped.
	}

	if !haveMaxLength {
		return ui, dicomerrors.NewMalformedPDUError(pduType, "user information missing maximum length sub-item")
	}
	return ui, nil
}

func decodePDataTF(body []byte) (PDU, error) {
	if len(body) == 0 {
		return nil, dicomerrors.NewMalformedPDUError(TypePDataTF, "no presentation data values")
	}

	p := &PDataTF{}
	offset := 0
	for offset < len(body) {
		if offset+4 > len(body) {
			return nil, dicomerrors.NewMalformedPDUError(TypePDataTF,
				"truncated PDV length at offset %d", offset)
		}
		pdvLength := binary.BigEndian.Uint32(body[offset : offset+4])
		start := offset + 4
		if uint64(pdvLength) > uint64(len(body)-start) {
			return nil, dicomerrors.NewMalformedPDUError(TypePDataTF,
				"PDV length %d exceeds PDU", pdvLength)
		}
		if pdvLength < 2 {
			return nil, dicomerrors.NewMalformedPDUError(TypePDataTF,
				"PDV length %d shorter than its 2 byte header", pdvLength)
		}
		end := start + int(pdvLength)

		header := body[start+1]
		data := make([]byte, end-start-2)
		copy(data, body[start+2:end])
		p.Values = append(p.Values, PDV{
			ContextID: body[start],
			Command:   header&0x01 != 0,
			Last:      header&0x02 != 0,
			Data:      data,
		})
		offset = end
	}
	return p, nil
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

func trimAETitle(raw []byte) string {
	title := string(raw)
	if idx := strings.IndexByte(title, 0); idx != -1 {
		title = title[:idx]
	}
	return strings.TrimSpace(title)
}
