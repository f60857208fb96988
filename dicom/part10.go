// Package dicom reads and writes DICOM Part 10 files around opaque data sets
// and persists received instances to disk.
package dicom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/caio-sobreiro/dicomul/types"
)

const (
	preambleLength = 128
	part10Magic    = "DICM"
	metaGroup      = 0x0002
)

// File Meta Information (0002,xxxx) element numbers
const (
	tagMetaGroupLength           = 0x0000
	tagMetaVersion               = 0x0001
	tagMediaStorageSOPClassUID   = 0x0002
	tagMediaStorageSOPInstanceID = 0x0003
	tagTransferSyntaxUID         = 0x0010
	tagImplementationClassUID    = 0x0012
	tagImplementationVersionName = 0x0013
	tagSourceAETitle             = 0x0016
)

// FileMeta holds the File Meta Information of a Part 10 file.
type FileMeta struct {
	MediaStorageSOPClassUID    string
	MediaStorageSOPInstanceUID string
	TransferSyntaxUID          string
	ImplementationClassUID     string
	ImplementationVersionName  string
	SourceAETitle              string
}

// ReadPart10 splits a DICOM Part 10 file into its File Meta Information and
// the data set that follows it.
//
// DICOM Part 10 files contain:
//   - 128 byte preamble
//   - 4 byte "DICM" prefix
//   - File Meta Information elements (group 0x0002, always Explicit VR Little Endian)
//   - Dataset (the actual DICOM data)
//
// Example:
//
//	fileData, _ := os.ReadFile("image.dcm")
//	meta, dataset, err := dicom.ReadPart10(fileData)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// meta.MediaStorageSOPClassUID names the abstract syntax to send dataset on
func ReadPart10(data []byte) (FileMeta, []byte, error) {
	var meta FileMeta

	if len(data) < preambleLength+len(part10Magic) {
		return meta, nil, fmt.Errorf("data too short to be DICOM Part 10 (need at least 132 bytes, got %d)", len(data))
	}
	if string(data[preambleLength:preambleLength+4]) != part10Magic {
		return meta, nil, fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	offset := preambleLength + len(part10Magic)
	for offset+4 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		if group != metaGroup {
			break
		}
		if offset+8 > len(data) {
			return meta, nil, fmt.Errorf("truncated file meta element (0002,%04x)", element)
		}

		vr := string(data[offset+4 : offset+6])
		var length int
		if hasLongLength(vr) {
			if offset+12 > len(data) {
				return meta, nil, fmt.Errorf("truncated file meta element (0002,%04x)", element)
			}
			length = int(binary.LittleEndian.Uint32(data[offset+8 : offset+12]))
			offset += 12
		} else {
			length = int(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
			offset += 8
		}
		if length < 0 || length > len(data)-offset {
			return meta, nil, fmt.Errorf("file meta element (0002,%04x) length %d exceeds file", element, length)
		}

		value := strings.TrimRight(string(data[offset:offset+length]), "\x00 ")
		switch element {
		case tagMediaStorageSOPClassUID:
			meta.MediaStorageSOPClassUID = value
		case tagMediaStorageSOPInstanceID:
			meta.MediaStorageSOPInstanceUID = value
		case tagTransferSyntaxUID:
			meta.TransferSyntaxUID = value
		case tagImplementationClassUID:
			meta.ImplementationClassUID = value
		case tagImplementationVersionName:
			meta.ImplementationVersionName = value
		case tagSourceAETitle:
			meta.SourceAETitle = value
		}
		offset += length
	}

	if offset >= len(data) {
		return meta, nil, fmt.Errorf("failed to find dataset after File Meta Information")
	}
	return meta, data[offset:], nil
}

// StripPart10Header removes the DICOM Part 10 preamble and File Meta Information
// to extract just the dataset.
//
// This function is useful when you need to send a DICOM dataset via DIMSE
// operations (like C-STORE), which expect only the dataset without the
// Part 10 wrapper.
func StripPart10Header(data []byte) ([]byte, error) {
	_, dataset, err := ReadPart10(data)
	return dataset, err
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < preambleLength+len(part10Magic) {
		return false
	}
	return string(data[preambleLength:preambleLength+4]) == part10Magic
}

// BuildFileMetaInformation encodes meta as a group 0002 element list in
// Explicit VR Little Endian, starting with the group length. Empty optional
// fields are omitted.
func BuildFileMetaInformation(meta FileMeta) ([]byte, error) {
	if meta.MediaStorageSOPClassUID == "" || meta.MediaStorageSOPInstanceUID == "" {
		return nil, fmt.Errorf("file meta information requires SOP class and instance UIDs")
	}
	if meta.TransferSyntaxUID == "" {
		meta.TransferSyntaxUID = types.ImplicitVRLittleEndian
	}

	var body bytes.Buffer
	writeLongElement(&body, tagMetaVersion, "OB", []byte{0x00, 0x01})
	writeElement(&body, tagMediaStorageSOPClassUID, "UI", padUID(meta.MediaStorageSOPClassUID))
	writeElement(&body, tagMediaStorageSOPInstanceID, "UI", padUID(meta.MediaStorageSOPInstanceUID))
	writeElement(&body, tagTransferSyntaxUID, "UI", padUID(meta.TransferSyntaxUID))
	if meta.ImplementationClassUID != "" {
		writeElement(&body, tagImplementationClassUID, "UI", padUID(meta.ImplementationClassUID))
	}
	if meta.ImplementationVersionName != "" {
		writeElement(&body, tagImplementationVersionName, "SH", padText(meta.ImplementationVersionName))
	}
	if meta.SourceAETitle != "" {
		writeElement(&body, tagSourceAETitle, "AE", padText(meta.SourceAETitle))
	}

	var out bytes.Buffer
	groupLength := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLength, uint32(body.Len()))
	writeElement(&out, tagMetaGroupLength, "UL", groupLength)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// WritePart10 writes a complete Part 10 file: preamble, prefix, File Meta
// Information built from meta, then the data set unchanged.
func WritePart10(w io.Writer, meta FileMeta, dataset []byte) error {
	header, err := BuildFileMetaInformation(meta)
	if err != nil {
		return err
	}

	if _, err := w.Write(make([]byte, preambleLength)); err != nil {
		return fmt.Errorf("write preamble: %w", err)
	}
	if _, err := io.WriteString(w, part10Magic); err != nil {
		return fmt.Errorf("write prefix: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write file meta information: %w", err)
	}
	if _, err := w.Write(dataset); err != nil {
		return fmt.Errorf("write data set: %w", err)
	}
	return nil
}

func hasLongLength(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OW", "SQ", "UC", "UN", "UR", "UT":
		return true
	}
	return false
}

func writeElement(buf *bytes.Buffer, element uint16, vr string, value []byte) {
	var header [8]byte
	binary.LittleEndian.PutUint16(header[0:2], metaGroup)
	binary.LittleEndian.PutUint16(header[2:4], element)
	copy(header[4:6], vr)
	binary.LittleEndian.PutUint16(header[6:8], uint16(len(value)))
	buf.Write(header[:])
	buf.Write(value)
}

func writeLongElement(buf *bytes.Buffer, element uint16, vr string, value []byte) {
	var header [12]byte
	binary.LittleEndian.PutUint16(header[0:2], metaGroup)
	binary.LittleEndian.PutUint16(header[2:4], element)
	copy(header[4:6], vr)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(value)))
	buf.Write(header[:])
	buf.Write(value)
}

func padUID(uid string) []byte {
	b := []byte(uid)
	if len(b)%2 == 1 {
		b = append(b, 0x00)
	}
	return b
}

func padText(s string) []byte {
	b := []byte(s)
	if len(b)%2 == 1 {
		b = append(b, ' ')
	}
	return b
}
