package client

import (
	"context"
	"fmt"

	"github.com/caio-sobreiro/dicomul/types"
)

// CStoreRequest represents a C-STORE request
type CStoreRequest struct {
	SOPClassUID    string
	SOPInstanceUID string
	Data           []byte
	// TransferSyntax selects the context negotiated with this transfer
	// syntax. Empty picks the first context for SOPClassUID.
	TransferSyntax string
	Priority       uint16
}

// CStoreResponse represents a C-STORE response
type CStoreResponse struct {
	Status         uint16
	MessageID      uint16
	SOPClassUID    string
	SOPInstanceUID string
	ErrorComment   string
}

// SendCStore sends a C-STORE request and waits for response. A non-success
// status is reported in the response, not as an error.
func (a *Association) SendCStore(ctx context.Context, req *CStoreRequest) (*CStoreResponse, error) {
	if req.SOPClassUID == "" || req.SOPInstanceUID == "" {
		return nil, fmt.Errorf("C-STORE requires SOP class and instance UIDs")
	}

	var (
		contextID byte
		err       error
	)
	if req.TransferSyntax != "" {
		contextID, err = a.assoc.Registry().ResolveIDFor(req.SOPClassUID, req.TransferSyntax)
	} else {
		contextID, err = a.PresentationContextID(req.SOPClassUID)
	}
	if err != nil {
		return nil, fmt.Errorf("no presentation context for SOP class %s: %w", types.SOPClassName(req.SOPClassUID), err)
	}

	data := req.Data
	if data == nil {
		data = []byte{}
	}

	command := &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              a.assoc.NextMessageID(),
		Priority:               req.Priority,
		AffectedSOPClassUID:    req.SOPClassUID,
		AffectedSOPInstanceUID: req.SOPInstanceUID,
	}

	a.logger.Debug("Sending C-STORE-RQ",
		"context_id", contextID,
		"message_id", command.MessageID,
		"sop_class", req.SOPClassUID,
		"sop_instance", req.SOPInstanceUID,
		"data_size", len(data))

	resp, err := a.request(ctx, contextID, command, data)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("Received C-STORE-RSP",
		"message_id", command.MessageID,
		"status", resp.Message.Status)

	return &CStoreResponse{
		Status:         resp.Message.Status,
		MessageID:      resp.Message.MessageIDBeingRespondedTo,
		SOPClassUID:    resp.Message.AffectedSOPClassUID,
		SOPInstanceUID: resp.Message.AffectedSOPInstanceUID,
		ErrorComment:   resp.Message.ErrorComment,
	}, nil
}
