// Package errors provides DICOM-specific error types for better error handling
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrConnectionClosed  = errors.New("dicom: connection closed")
	ErrMalformedPDU      = errors.New("dicom: malformed PDU")
	ErrNoPresentationCtx = errors.New("dicom: no suitable presentation context")
	ErrInvalidMessage    = errors.New("dicom: invalid DIMSE message")
	ErrOperationCanceled = errors.New("dicom: operation canceled")
	ErrNotEstablished    = errors.New("dicom: association not established")
	ErrUnexpectedPDU     = errors.New("dicom: unexpected PDU")
	ErrNotNegotiated     = errors.New("dicom: abstract syntax not negotiated")
	ErrOutOfResources    = errors.New("dicom: out of resources")
)

// AssociationError is returned when an association request is rejected.
// Source, Reason and Result are reported exactly as carried by the A-ASSOCIATE-RJ.
type AssociationError struct {
	Result AssociationRejectResult
	Reason AssociationRejectReason
	Source AssociationRejectSource
	Msg    string
}

func (e *AssociationError) Error() string {
	return fmt.Sprintf("association rejected: %s (result: %s, source: %s, reason: %s)",
		e.Msg, e.Result, e.Source, e.Reason.Describe(e.Source))
}

// AssociationRejectResult tells whether a rejection is permanent or transient
type AssociationRejectResult byte

const (
	RejectResultPermanent AssociationRejectResult = 0x01
	RejectResultTransient AssociationRejectResult = 0x02
)

func (r AssociationRejectResult) String() string {
	switch r {
	case RejectResultPermanent:
		return "rejected-permanent"
	case RejectResultTransient:
		return "rejected-transient"
	default:
		return "unknown"
	}
}

// AssociationRejectReason represents why an association was rejected
type AssociationRejectReason byte

// Service-user reasons (source 0x01)
const (
	RejectReasonUnknown                        AssociationRejectReason = 0x00
	RejectReasonNoReasonGiven                  AssociationRejectReason = 0x01
	RejectReasonApplicationContextNotSupported AssociationRejectReason = 0x02
	RejectReasonCallingAETitleNotRecognized    AssociationRejectReason = 0x03
	RejectReasonCalledAETitleNotRecognized     AssociationRejectReason = 0x07
)

// Service-provider reasons. ACSE (source 0x02) uses 0x01 and 0x02,
// presentation (source 0x03) uses 0x01 and 0x02 with different meanings.
const (
	RejectReasonProtocolVersionNotSupported AssociationRejectReason = 0x02
	RejectReasonTemporaryCongestion         AssociationRejectReason = 0x01
	RejectReasonLocalLimitExceeded          AssociationRejectReason = 0x02
)

func (r AssociationRejectReason) String() string {
	return r.Describe(RejectSourceServiceUser)
}

// Describe renders the reason in the namespace of the given source.
func (r AssociationRejectReason) Describe(source AssociationRejectSource) string {
	switch source {
	case RejectSourceServiceProviderACSE:
		switch r {
		case 0x01:
			return "no-reason-given"
		case RejectReasonProtocolVersionNotSupported:
			return "protocol-version-not-supported"
		}
	case RejectSourceServiceProviderPresentation:
		switch r {
		case RejectReasonTemporaryCongestion:
			return "temporary-congestion"
		case RejectReasonLocalLimitExceeded:
			return "local-limit-exceeded"
		}
	default:
		switch r {
		case RejectReasonNoReasonGiven:
			return "no-reason-given"
		case RejectReasonApplicationContextNotSupported:
			return "application-context-not-supported"
		case RejectReasonCallingAETitleNotRecognized:
			return "calling-ae-title-not-recognized"
		case RejectReasonCalledAETitleNotRecognized:
			return "called-ae-title-not-recognized"
		}
	}
	return fmt.Sprintf("unknown(0x%02X)", byte(r))
}

// AssociationRejectSource represents who rejected the association
type AssociationRejectSource byte

const (
	RejectSourceUnknown                     AssociationRejectSource = 0x00
	RejectSourceServiceUser                 AssociationRejectSource = 0x01
	RejectSourceServiceProviderACSE         AssociationRejectSource = 0x02
	RejectSourceServiceProviderPresentation AssociationRejectSource = 0x03
)

func (s AssociationRejectSource) String() string {
	switch s {
	case RejectSourceServiceUser:
		return "service-user"
	case RejectSourceServiceProviderACSE:
		return "service-provider-acse"
	case RejectSourceServiceProviderPresentation:
		return "service-provider-presentation"
	default:
		return "unknown"
	}
}

// NewAssociationError creates a new association error
func NewAssociationError(result AssociationRejectResult, source AssociationRejectSource, reason AssociationRejectReason, msg string) *AssociationError {
	return &AssociationError{
		Result: result,
		Source: source,
		Reason: reason,
		Msg:    msg,
	}
}

// DIMSEError represents a DIMSE operation error with status code
type DIMSEError struct {
	Status    uint16
	Operation string
	Msg       string
}

func (e *DIMSEError) Error() string {
	return fmt.Sprintf("DIMSE %s failed: %s (status: 0x%04X)", e.Operation, e.Msg, e.Status)
}

// NewDIMSEError creates a new DIMSE error
func NewDIMSEError(operation string, status uint16, msg string) *DIMSEError {
	return &DIMSEError{
		Operation: operation,
		Status:    status,
		Msg:       msg,
	}
}

// IsSuccess returns true if the DIMSE status indicates success
func (e *DIMSEError) IsSuccess() bool {
	return e.Status == 0x0000
}

// IsPending returns true if the DIMSE status indicates pending
func (e *DIMSEError) IsPending() bool {
	return e.Status == 0xFF00 || e.Status == 0xFF01
}

// IsWarning returns true if the DIMSE status indicates a warning
func (e *DIMSEError) IsWarning() bool {
	return (e.Status&0xFF00) == 0x0100 || (e.Status&0xF000) == 0xB000
}

// IsFailure returns true if the DIMSE status indicates failure
func (e *DIMSEError) IsFailure() bool {
	return (e.Status&0xF000) == 0xC000 || (e.Status&0xF000) == 0xA000
}

// TimeoutError is returned when no data arrived (or could be written) before
// the configured deadline. It is kept apart from NetworkError so callers can
// tell an idle peer from a broken connection.
type TimeoutError struct {
	Operation string
	Duration  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s", e.Operation, e.Duration)
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(operation, duration string) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
	}
}

// NetworkError represents a network-level error
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{
		Op:  op,
		Err: err,
	}
}

// MalformedPDUError reports wire data that violates PDU framing rules.
// It always matches ErrMalformedPDU with errors.Is.
type MalformedPDUError struct {
	PDUType byte
	Msg     string
}

func (e *MalformedPDUError) Error() string {
	return fmt.Sprintf("malformed PDU (type: 0x%02X): %s", e.PDUType, e.Msg)
}

func (e *MalformedPDUError) Unwrap() error {
	return ErrMalformedPDU
}

// NewMalformedPDUError creates a new malformed PDU error
func NewMalformedPDUError(pduType byte, format string, args ...any) *MalformedPDUError {
	return &MalformedPDUError{
		PDUType: pduType,
		Msg:     fmt.Sprintf(format, args...),
	}
}

// AbortError represents an A-ABORT PDU received
type AbortError struct {
	Source byte
	Reason byte
}

func (e *AbortError) Error() string {
	sourceStr := "unknown"
	if e.Source == 0x00 {
		sourceStr = "service-user"
	} else if e.Source == 0x02 {
		sourceStr = "service-provider"
	}

	return fmt.Sprintf("connection aborted by %s (reason: 0x%02X)", sourceStr, e.Reason)
}

// NewAbortError creates a new abort error
func NewAbortError(source, reason byte) *AbortError {
	return &AbortError{
		Source: source,
		Reason: reason,
	}
}

// UnknownPresentationContextError is returned when a presentation context ID
// is not part of the negotiated registry.
type UnknownPresentationContextError struct {
	ContextID byte
}

func (e *UnknownPresentationContextError) Error() string {
	return fmt.Sprintf("unknown presentation context id %d", e.ContextID)
}

// UnregisteredCommandError is returned when no handler is registered for a command field.
type UnregisteredCommandError struct {
	CommandField uint16
}

func (e *UnregisteredCommandError) Error() string {
	return fmt.Sprintf("unsupported DIMSE command: 0x%04x", e.CommandField)
}

// DispatchError describes which command and context were in flight when the
// dispatch loop terminated abnormally.
type DispatchError struct {
	ContextID    byte
	CommandField uint16
	MessageID    uint16
	Err          error
}

func (e *DispatchError) Error() string {
	if e.CommandField == 0 && e.ContextID == 0 {
		return fmt.Sprintf("dispatch failed: %v", e.Err)
	}
	return fmt.Sprintf("dispatch failed (context: %d, command: 0x%04x, message_id: %d): %v",
		e.ContextID, e.CommandField, e.MessageID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err (or anything it wraps) is a timeout.
func IsTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
