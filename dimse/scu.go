package dimse

import (
	"context"
	"errors"
	"fmt"

	"github.com/caio-sobreiro/dicomul/association"
	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/pdu"
	"github.com/caio-sobreiro/dicomul/types"
)

// Send encodes msg and sends it with an optional data set on contextID. The
// command data set type is derived from whether dataset is nil.
func Send(ctx context.Context, assoc *association.Association, contextID byte, msg *types.Message, dataset []byte) error {
	out := *msg
	if dataset != nil {
		out.CommandDataSetType = types.DataSetPresent
	} else {
		out.CommandDataSetType = types.NoDataSetPresent
	}

	command, err := EncodeCommand(&out)
	if err != nil {
		return err
	}
	return assoc.SendMessage(ctx, contextID, command, dataset)
}

// ReceiveMessage waits for the next complete DIMSE message, typically a
// response to a request this side sent.
//
// Framing errors, unknown contexts and PDVs trailing a complete message in
// the same P-DATA-TF abort the association. An A-ABORT from
// the peer is returned as *errors.AbortError, and a release request is
// answered before ErrConnectionClosed is returned.
func ReceiveMessage(ctx context.Context, assoc *association.Association) (*types.Request, error) {
	assembler := NewAssembler(assoc.Registry())

	for {
		p, err := assoc.Receive(ctx)
		if err != nil {
			reason := pdu.AbortReasonNotSpecified
			if errors.Is(err, dicomerrors.ErrMalformedPDU) {
				reason = pdu.AbortReasonInvalidPDUParameterValue
			}
			assoc.Abort(pdu.AbortSourceServiceUser, reason)
			return nil, err
		}

		switch v := p.(type) {
		case *pdu.PDataTF:
			for i, pdv := range v.Values {
				req, err := assembler.Add(pdv)
				if err != nil {
					assoc.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameterValue)
					return nil, err
				}
				if req == nil {
					continue
				}
				if trailing := len(v.Values) - i - 1; trailing > 0 {
					assoc.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameterValue)
					return nil, fmt.Errorf("%w: %d PDVs follow a complete %s in the same P-DATA-TF",
						dicomerrors.ErrInvalidMessage, trailing, types.CommandName(req.Message.CommandField))
				}
				return req, nil
			}

		case *pdu.Abort:
			return nil, dicomerrors.NewAbortError(v.Source, v.Reason)

		case *pdu.ReleaseRQ:
			if err := assoc.HandleReleaseRequest(ctx); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: peer released the association", dicomerrors.ErrConnectionClosed)

		default:
			assoc.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonUnexpectedPDU)
			return nil, fmt.Errorf("%w: %s while awaiting a message", dicomerrors.ErrUnexpectedPDU, pdu.TypeName(p.Type()))
		}
	}
}
