package types

// DICOM Transfer Syntax UIDs as defined in DICOM Part 5, Section 8 and Part 6, Annex A.4
// https://dicom.nema.org/medical/dicom/current/output/chtml/part05/chapter_8.html

// Uncompressed Transfer Syntaxes
const (
	// ImplicitVRLittleEndian - Default Transfer Syntax for DICOM
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	// ExplicitVRLittleEndian - Explicit VR with little endian byte ordering
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// ExplicitVRBigEndian - Explicit VR with big endian byte ordering (retired)
	ExplicitVRBigEndian = "1.2.840.10008.1.2.2"

	// DeflatedExplicitVRLittleEndian - Deflate compression with explicit VR
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

// Compressed Transfer Syntaxes
const (
	JPEGBaseline8Bit = "1.2.840.10008.1.2.4.50"
	JPEGLosslessSV1  = "1.2.840.10008.1.2.4.70"
	JPEG2000Lossless = "1.2.840.10008.1.2.4.90"
	RLELossless      = "1.2.840.10008.1.2.5"
)

var transferSyntaxNames = map[string]string{
	ImplicitVRLittleEndian:         "Implicit VR Little Endian",
	ExplicitVRLittleEndian:         "Explicit VR Little Endian",
	ExplicitVRBigEndian:            "Explicit VR Big Endian",
	DeflatedExplicitVRLittleEndian: "Deflated Explicit VR Little Endian",
	JPEGBaseline8Bit:               "JPEG Baseline (Process 1)",
	JPEGLosslessSV1:                "JPEG Lossless, SV1",
	JPEG2000Lossless:               "JPEG 2000 (Lossless Only)",
	RLELossless:                    "RLE Lossless",
}

// TransferSyntaxName returns a human-readable name for a transfer syntax UID, or the UID itself.
func TransferSyntaxName(uid string) string {
	if name, ok := transferSyntaxNames[uid]; ok {
		return name
	}
	return uid
}

// UncompressedTransferSyntaxes returns the uncompressed transfer syntaxes in the
// order an acceptor prefers them.
func UncompressedTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ExplicitVRBigEndian,
		ImplicitVRLittleEndian,
	}
}
