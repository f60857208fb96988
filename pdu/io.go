package pdu

import (
	"encoding/binary"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/transport"
)

// Read receives one PDU from s. A single deadline, timeout from now, covers
// both the header and the body; zero disables it. When maxLength is non-zero a
// declared length above it is rejected as malformed before the body is read.
func Read(s transport.Stream, timeout time.Duration, maxLength uint32) (PDU, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	header := make([]byte, HeaderLength)
	if err := s.ReadFull(header, deadline); err != nil {
		return nil, err
	}

	pduType := header[0]
	length := binary.BigEndian.Uint32(header[2:6])
	if maxLength > 0 && length > maxLength {
		return nil, dicomerrors.NewMalformedPDUError(pduType,
			"declared length %d exceeds maximum %d", length, maxLength)
	}

	body := make([]byte, length)
	if err := s.ReadFull(body, deadline); err != nil {
		return nil, err
	}
	return decodeBody(pduType, body)
}

// Write encodes p and sends it on s within timeout.
func Write(s transport.Stream, p PDU, timeout time.Duration) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	return s.WriteAll(data, deadline)
}
