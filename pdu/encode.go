package pdu

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Encode serializes a PDU including its 6 byte header.
func Encode(p PDU) ([]byte, error) {
	var (
		body []byte
		err  error
	)

	switch v := p.(type) {
	case *AssociateRQ:
		body, err = encodeAssociateRQ(v)
	case *AssociateAC:
		body, err = encodeAssociateAC(v)
	case *AssociateRJ:
		body = []byte{0x00, byte(v.Result), byte(v.Source), byte(v.Reason)}
	case *ReleaseRQ, *ReleaseRP:
		body = make([]byte, 4)
	case *Abort:
		body = []byte{0x00, 0x00, v.Source, v.Reason}
	case *PDataTF:
		body, err = encodePDataTF(v)
	case nil:
		return nil, fmt.Errorf("encode: nil PDU")
	default:
		return nil, fmt.Errorf("encode: unsupported PDU %T", p)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", TypeName(p.Type()), err)
	}

	out := make([]byte, HeaderLength, HeaderLength+len(body))
	out[0] = p.Type()
	binary.BigEndian.PutUint32(out[2:6], uint32(len(body)))
	return append(out, body...), nil
}

func encodeAssociateRQ(rq *AssociateRQ) ([]byte, error) {
	if len(rq.PresentationContexts) == 0 {
		return nil, fmt.Errorf("no presentation contexts")
	}
	if len(rq.PresentationContexts) > MaxPresentationContexts {
		return nil, fmt.Errorf("%d presentation contexts exceed the limit of %d",
			len(rq.PresentationContexts), MaxPresentationContexts)
	}

	buf, err := encodeAssociateHeader(rq.ProtocolVersion, rq.CalledAETitle, rq.CallingAETitle, rq.ApplicationContext)
	if err != nil {
		return nil, err
	}

	seen := make(map[byte]bool, len(rq.PresentationContexts))
	for _, pc := range rq.PresentationContexts {
		if pc.ID == 0 || pc.ID%2 == 0 {
			return nil, fmt.Errorf("presentation context id %d is not odd", pc.ID)
		}
		if seen[pc.ID] {
			return nil, fmt.Errorf("duplicate presentation context id %d", pc.ID)
		}
		seen[pc.ID] = true

		if pc.AbstractSyntax == "" {
			return nil, fmt.Errorf("presentation context %d has no abstract syntax", pc.ID)
		}
		if len(pc.TransferSyntaxes) == 0 {
			return nil, fmt.Errorf("presentation context %d has no transfer syntax", pc.ID)
		}

		value := []byte{pc.ID, 0x00, 0x00, 0x00}
		if value, err = appendItem(value, itemAbstractSyntax, []byte(pc.AbstractSyntax)); err != nil {
			return nil, err
		}
		for _, ts := range pc.TransferSyntaxes {
			if value, err = appendItem(value, itemTransferSyntax, []byte(ts)); err != nil {
				return nil, err
			}
		}
		if buf, err = appendItem(buf, itemPresentationContextRQ, value); err != nil {
			return nil, err
		}
	}

	return appendUserInformation(buf, rq.UserInformation)
}

func encodeAssociateAC(ac *AssociateAC) ([]byte, error) {
	buf, err := encodeAssociateHeader(ac.ProtocolVersion, ac.CalledAETitle, ac.CallingAETitle, ac.ApplicationContext)
	if err != nil {
		return nil, err
	}

	seen := make(map[byte]bool, len(ac.PresentationContexts))
	for _, pc := range ac.PresentationContexts {
		if seen[pc.ID] {
			return nil, fmt.Errorf("duplicate presentation context id %d", pc.ID)
		}
		seen[pc.ID] = true

		value := []byte{pc.ID, 0x00, byte(pc.Result), 0x00}
		if pc.Result == ResultAcceptance {
			if pc.TransferSyntax == "" {
				return nil, fmt.Errorf("accepted presentation context %d has no transfer syntax", pc.ID)
			}
			if value, err = appendItem(value, itemTransferSyntax, []byte(pc.TransferSyntax)); err != nil {
				return nil, err
			}
		}
		if buf, err = appendItem(buf, itemPresentationContextAC, value); err != nil {
			return nil, err
		}
	}

	return appendUserInformation(buf, ac.UserInformation)
}

func encodeAssociateHeader(version uint16, called, calling, appContext string) ([]byte, error) {
	if err := validateAETitle("called", called); err != nil {
		return nil, err
	}
	if err := validateAETitle("calling", calling); err != nil {
		return nil, err
	}
	if appContext == "" {
		return nil, fmt.Errorf("missing application context")
	}

	buf := make([]byte, associateFixedLength)
	binary.BigEndian.PutUint16(buf[0:2], version)
	copy(buf[4:20], padAETitle(called))
	copy(buf[20:36], padAETitle(calling))

	return appendItem(buf, itemApplicationContext, []byte(appContext))
}

func appendUserInformation(buf []byte, ui UserInformation) ([]byte, error) {
	value := []byte{itemMaxLength, 0x00, 0x00, 0x04, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(value[4:8], ui.MaxPDULength)

	var err error
	if ui.ImplementationClassUID != "" {
		if value, err = appendItem(value, itemImplementationClassUID, []byte(ui.ImplementationClassUID)); err != nil {
			return nil, err
		}
	}
	if ui.ImplementationVersionName != "" {
		if value, err = appendItem(value, itemImplementationVersionName, []byte(ui.ImplementationVersionName)); err != nil {
			return nil, err
		}
	}
	return appendItem(buf, itemUserInformation, value)
}

func encodePDataTF(p *PDataTF) ([]byte, error) {
	if len(p.Values) == 0 {
		return nil, fmt.Errorf("no presentation data values")
	}

	size := 0
	for _, v := range p.Values {
		size += 6 + len(v.Data)
	}

	buf := make([]byte, 0, size)
	for _, v := range p.Values {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(2+len(v.Data)))
		buf = append(buf, length[:]...)
		buf = append(buf, v.ContextID, v.ControlHeader())
		buf = append(buf, v.Data...)
	}
	return buf, nil
}

// appendItem appends a type/reserved/16 bit length item.
func appendItem(dst []byte, itemType byte, value []byte) ([]byte, error) {
	if len(value) > maxItemLength {
		return nil, fmt.Errorf("item 0x%02x length %d exceeds %d", itemType, len(value), maxItemLength)
	}
	dst = append(dst, itemType, 0x00, byte(len(value)>>8), byte(len(value)))
	return append(dst, value...), nil
}

func validateAETitle(role, title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%s AE title is empty", role)
	}
	if len(title) > aeTitleLength {
		return fmt.Errorf("%s AE title %q longer than %d bytes", role, title, aeTitleLength)
	}
	return nil
}

func padAETitle(title string) string {
	return fmt.Sprintf("%-16s", title)
}
