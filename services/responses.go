package services

import (
	"github.com/caio-sobreiro/dicomul/types"
)

// ResponseBuilder provides convenient methods for creating standard DIMSE response messages.
//
// These builders ensure that response messages are properly formatted according to the
// DICOM standard and include all required fields.
type ResponseBuilder struct {
	request *types.Message
}

// NewResponseBuilder creates a new response builder for the given request message.
//
// The builder will automatically populate common fields like MessageIDBeingRespondedTo
// and AffectedSOPClassUID from the request.
func NewResponseBuilder(request *types.Message) *ResponseBuilder {
	return &ResponseBuilder{request: request}
}

// CEchoResponse creates a C-ECHO-RSP message.
//
// Parameters:
//   - status: The response status (typically types.StatusSuccess)
//
// Returns a C-ECHO-RSP message with no dataset.
func (b *ResponseBuilder) CEchoResponse(status uint16) *types.Message {
	sopClass := b.request.AffectedSOPClassUID
	if sopClass == "" {
		sopClass = types.VerificationSOPClass
	}

	return &types.Message{
		CommandField:              types.CEchoRSP,
		MessageIDBeingRespondedTo: b.request.MessageID,
		AffectedSOPClassUID:       sopClass,
		CommandDataSetType:        types.NoDataSetPresent,
		Status:                    status,
	}
}

// CStoreResponse creates a C-STORE-RSP message.
//
// Parameters:
//   - status: The response status (typically types.StatusSuccess or an error code)
//   - errorComment: Optional free text describing a failure, empty on success
//
// Returns a C-STORE-RSP message with no dataset, echoing the affected SOP
// class and instance of the request.
func (b *ResponseBuilder) CStoreResponse(status uint16, errorComment string) *types.Message {
	rsp := NewStatusResponse(b.request, status)
	rsp.CommandField = types.CStoreRSP
	rsp.ErrorComment = errorComment
	return rsp
}

// Helper functions for creating responses without a builder instance

// NewCEchoResponse creates a C-ECHO-RSP message from a request.
func NewCEchoResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).CEchoResponse(status)
}

// NewCStoreResponse creates a C-STORE-RSP message.
func NewCStoreResponse(request *types.Message, status uint16) *types.Message {
	return NewResponseBuilder(request).CStoreResponse(status, "")
}

// NewCStoreErrorResponse creates a failed C-STORE-RSP message carrying an error comment.
func NewCStoreErrorResponse(request *types.Message, status uint16, comment string) *types.Message {
	return NewResponseBuilder(request).CStoreResponse(status, comment)
}
