// Package interfaces contains the handler and storage interfaces shared by the
// dispatcher, the services and the server.
package interfaces

import (
	"context"

	"github.com/caio-sobreiro/dicomul/types"
)

// CommandHandler handles one reassembled DIMSE request. Responses go through
// the responder; the returned outcome tells the dispatcher whether to keep
// the association open, release it or abort it.
type CommandHandler interface {
	HandleCommand(ctx context.Context, req *types.Request, responder Responder) types.Outcome
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, req *types.Request, responder Responder) types.Outcome

func (f CommandHandlerFunc) HandleCommand(ctx context.Context, req *types.Request, responder Responder) types.Outcome {
	return f(ctx, req, responder)
}

// CommandRouter maps a command field to its handler.
type CommandRouter interface {
	Route(commandField uint16) (CommandHandler, bool)
}

// Responder sends DIMSE responses on the presentation context the request
// arrived on. It may be called any number of times per request.
type Responder interface {
	SendResponse(ctx context.Context, msg *types.Message, dataset []byte) error
}

// InstanceStore persists received composite instances.
type InstanceStore interface {
	StoreInstance(ctx context.Context, sopClassUID, sopInstanceUID, transferSyntax string, dataset []byte) error
}
