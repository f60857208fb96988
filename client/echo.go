package client

import (
	"context"

	"github.com/caio-sobreiro/dicomul/types"
)

// CEchoResponse represents the result of a C-ECHO operation.
type CEchoResponse struct {
	Status    uint16
	MessageID uint16
}

// SendCEcho performs a DICOM C-ECHO (verification) request and returns the response status.
func (a *Association) SendCEcho(ctx context.Context) (*CEchoResponse, error) {
	contextID, err := a.PresentationContextID(types.VerificationSOPClass)
	if err != nil {
		return nil, err
	}

	command := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           a.assoc.NextMessageID(),
		Priority:            types.PriorityMedium,
		AffectedSOPClassUID: types.VerificationSOPClass,
	}

	resp, err := a.request(ctx, contextID, command, nil)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("Received C-ECHO-RSP",
		"message_id", command.MessageID,
		"status", resp.Message.Status)

	return &CEchoResponse{
		Status:    resp.Message.Status,
		MessageID: resp.Message.MessageIDBeingRespondedTo,
	}, nil
}
