package types

import "strings"

// DICOM Application Context UID
// The Application Context defines the DICOM application-level message exchange rules.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// DICOM SOP Class UIDs as defined in DICOM Part 4, Annex B
// https://dicom.nema.org/medical/dicom/current/output/chtml/part04/sect_B.5.html

// Verification Service
const (
	VerificationSOPClass = "1.2.840.10008.1.1"
)

// Storage Service
const (
	ComputedRadiographyImageStorage = "1.2.840.10008.5.1.4.1.1.1"
	CTImageStorage                  = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage          = "1.2.840.10008.5.1.4.1.1.2.1"
	MRImageStorage                  = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage          = "1.2.840.10008.5.1.4.1.1.4.1"
	UltrasoundImageStorage          = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage    = "1.2.840.10008.5.1.4.1.1.7"
	NuclearMedicineImageStorage     = "1.2.840.10008.5.1.4.1.1.20"
	PETImageStorage                 = "1.2.840.10008.5.1.4.1.1.128"
	RTImageStorage                  = "1.2.840.10008.5.1.4.1.1.481.1"
	EncapsulatedPDFStorage          = "1.2.840.10008.5.1.4.1.1.104.1"
)

// Query/Retrieve Service
const (
	PatientRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.1.1"
	StudyRootQueryRetrieveInformationModelFind   = "1.2.840.10008.5.1.4.1.2.2.1"
)

// storageSOPClassPrefix is the root shared by every composite instance storage SOP class.
const storageSOPClassPrefix = "1.2.840.10008.5.1.4.1.1."

var sopClassNames = map[string]string{
	VerificationSOPClass:            "Verification SOP Class",
	ComputedRadiographyImageStorage: "Computed Radiography Image Storage",
	CTImageStorage:                  "CT Image Storage",
	EnhancedCTImageStorage:          "Enhanced CT Image Storage",
	MRImageStorage:                  "MR Image Storage",
	EnhancedMRImageStorage:          "Enhanced MR Image Storage",
	UltrasoundImageStorage:          "Ultrasound Image Storage",
	SecondaryCaptureImageStorage:    "Secondary Capture Image Storage",
	NuclearMedicineImageStorage:     "Nuclear Medicine Image Storage",
	PETImageStorage:                 "PET Image Storage",
	RTImageStorage:                  "RT Image Storage",
	EncapsulatedPDFStorage:          "Encapsulated PDF Storage",

	PatientRootQueryRetrieveInformationModelFind: "Patient Root Query/Retrieve - FIND",
	StudyRootQueryRetrieveInformationModelFind:   "Study Root Query/Retrieve - FIND",
}

// SOPClassName returns a human-readable name for a SOP Class UID, or the UID itself.
func SOPClassName(uid string) string {
	if name, ok := sopClassNames[uid]; ok {
		return name
	}
	return uid
}

// IsStorageSOPClass returns true if the UID is a storage SOP class
func IsStorageSOPClass(uid string) bool {
	return strings.HasPrefix(uid, storageSOPClassPrefix) && len(uid) > len(storageSOPClassPrefix)
}
