package dimse

import (
	"fmt"

	"github.com/caio-sobreiro/dicomul/association"
	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/pdu"
	"github.com/caio-sobreiro/dicomul/types"
)

// Assembler rebuilds one DIMSE message at a time from PDV fragments.
//
// All fragments of a message share one presentation context. Command
// fragments come first; data set fragments follow only when the command says a
// data set is present. Only a fragment marked last ends a stream, so empty
// fragments are accepted anywhere.
type Assembler struct {
	registry *association.Registry

	started     bool
	context     association.PresentationContext
	command     []byte
	message     *types.Message
	dataset     []byte
	haveDataset bool
}

// NewAssembler returns an assembler resolving context ids against registry.
func NewAssembler(registry *association.Registry) *Assembler {
	return &Assembler{registry: registry}
}

// Add feeds one fragment. It returns the complete request once the command and
// any expected data set are complete, and nil while more fragments are needed.
// After an error the partial message is discarded.
func (a *Assembler) Add(v pdu.PDV) (*types.Request, error) {
	pc, err := a.registry.Resolve(v.ContextID)
	if err != nil {
		a.Reset()
		return nil, err
	}

	if a.started && v.ContextID != a.context.ID {
		err := fmt.Errorf("%w: fragment for context %d while a message on context %d is incomplete",
			dicomerrors.ErrInvalidMessage, v.ContextID, a.context.ID)
		a.Reset()
		return nil, err
	}
	if !a.started {
		a.started = true
		a.context = pc
	}

	if v.Command {
		if a.message != nil {
			a.Reset()
			return nil, fmt.Errorf("%w: command fragment after the command was complete", dicomerrors.ErrInvalidMessage)
		}
		a.command = append(a.command, v.Data...)
		if !v.Last {
			return nil, nil
		}

		msg, err := DecodeCommand(a.command)
		if err != nil {
			a.Reset()
			return nil, err
		}
		a.message = msg
		if !msg.HasDataSet() {
			return a.complete(), nil
		}
		return nil, nil
	}

	if a.message == nil {
		a.Reset()
		return nil, fmt.Errorf("%w: data set fragment before the command was complete", dicomerrors.ErrInvalidMessage)
	}
	a.haveDataset = true
	a.dataset = append(a.dataset, v.Data...)
	if !v.Last {
		return nil, nil
	}
	return a.complete(), nil
}

func (a *Assembler) complete() *types.Request {
	req := &types.Request{
		ContextID:      a.context.ID,
		AbstractSyntax: a.context.AbstractSyntax,
		TransferSyntax: a.context.TransferSyntax,
		Message:        a.message,
		Command:        a.command,
	}
	if a.haveDataset {
		req.DataSet = a.dataset
		if req.DataSet == nil {
			req.DataSet = []byte{}
		}
	}

	a.Reset()
	return req
}

// InProgress reports whether fragments of an incomplete message are buffered.
func (a *Assembler) InProgress() bool {
	return a.started
}

// Pending returns the context id and, once decoded, the command of the
// incomplete message.
func (a *Assembler) Pending() (byte, *types.Message) {
	return a.context.ID, a.message
}

// Reset discards any partial message.
func (a *Assembler) Reset() {
	a.started = false
	a.context = association.PresentationContext{}
	a.command = nil
	a.message = nil
	a.dataset = nil
	a.haveDataset = false
}
