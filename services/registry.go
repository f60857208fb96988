package services

import (
	"slices"
	"sync"

	"github.com/caio-sobreiro/dicomul/interfaces"
	"github.com/caio-sobreiro/dicomul/types"
)

// Registry maps DIMSE command fields to the handlers that serve them.
//
// The registry is the command router handed to the dispatcher. It is safe for
// concurrent use, so one registry can be shared by every association a server
// accepts, and handlers may be added or removed while the server runs.
//
// Example usage:
//
//	registry := services.NewRegistry()
//	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService(logger))
//	registry.RegisterHandler(types.CStoreRQ, services.NewStoreService(store, logger))
//
//	srv := server.New("STORESCP", registry)
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint16]interfaces.CommandHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[uint16]interfaces.CommandHandler),
	}
}

// RegisterHandler registers a handler for a request command field.
//
// Only one handler can be registered per command field; registering again
// replaces the previous handler.
//
// Parameters:
//   - commandField: The DIMSE command field (e.g., types.CEchoRQ, types.CStoreRQ)
//   - handler: The handler invoked for every complete request with that command
func (r *Registry) RegisterHandler(commandField uint16, handler interfaces.CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[commandField] = handler
}

// UnregisterHandler removes the handler for a command field.
//
// After unregistering, a request with this command field aborts the
// association it arrives on.
func (r *Registry) UnregisterHandler(commandField uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, commandField)
}

// Route returns the handler registered for commandField.
//
// This method implements the interfaces.CommandRouter interface.
func (r *Registry) Route(commandField uint16) (interfaces.CommandHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[commandField]
	return h, ok
}

// HasHandler returns true if a handler is registered for the given command field.
func (r *Registry) HasHandler(commandField uint16) bool {
	_, ok := r.Route(commandField)
	return ok
}

// RegisteredCommands returns the registered command fields in ascending order.
func (r *Registry) RegisteredCommands() []uint16 {
	r.mu.RLock()
	commands := make([]uint16, 0, len(r.handlers))
	for cmd := range r.handlers {
		commands = append(commands, cmd)
	}
	r.mu.RUnlock()

	slices.Sort(commands)
	return commands
}

// NewStatusResponse creates a response message for req that carries only a status.
//
// The response carries the response command field for the request, the
// message ID being responded to, the affected SOP class and instance, and the
// specified status code. It never carries a data set.
//
// Parameters:
//   - req: The original request message
//   - status: The status code for the response
func NewStatusResponse(req *types.Message, status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.ResponseCommandFor(req.CommandField),
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSOPClassUID:       req.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    req.AffectedSOPInstanceUID,
		CommandDataSetType:        types.NoDataSetPresent,
		Status:                    status,
	}
}
