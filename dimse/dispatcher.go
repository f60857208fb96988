package dimse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caio-sobreiro/dicomul/association"
	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/interfaces"
	"github.com/caio-sobreiro/dicomul/pdu"
	"github.com/caio-sobreiro/dicomul/types"
)

// CommandObserver is told about every command that reached a handler.
type CommandObserver func(commandField uint16, outcome types.OutcomeKind, elapsed time.Duration)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCommandObserver registers fn to be called after each handled command.
func WithCommandObserver(fn CommandObserver) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = fn
	}
}

// Dispatcher drives the receive loop of an established association.
type Dispatcher struct {
	assoc     *association.Association
	router    interfaces.CommandRouter
	assembler *Assembler
	logger    *slog.Logger
	observer  CommandObserver
}

// NewDispatcher creates a dispatcher routing the commands received on assoc.
func NewDispatcher(assoc *association.Association, router interfaces.CommandRouter, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		assoc:     assoc,
		router:    router,
		assembler: NewAssembler(assoc.Registry()),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run receives PDUs until the association ends.
//
// It returns nil after an orderly release, whichever side asked for it. An
// A-ABORT from the peer is returned as *errors.AbortError. Every other failure
// aborts the association and is returned as *errors.DispatchError naming the
// command in flight.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return d.abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified,
				fmt.Errorf("%w: %w", dicomerrors.ErrOperationCanceled, err))
		}

		p, err := d.assoc.Receive(ctx)
		if err != nil {
			source, reason := pdu.AbortSourceServiceProvider, pdu.AbortReasonNotSpecified
			switch {
			case errors.Is(err, dicomerrors.ErrMalformedPDU):
				reason = pdu.AbortReasonInvalidPDUParameterValue
			case errors.Is(err, dicomerrors.ErrOperationCanceled):
				source = pdu.AbortSourceServiceUser
			}
			return d.abort(source, reason, err)
		}

		switch v := p.(type) {
		case *pdu.PDataTF:
			done, err := d.handleData(ctx, v)
			if err != nil || done {
				return err
			}

		case *pdu.ReleaseRQ:
			if d.assembler.InProgress() {
				d.logger.Debug("Discarding incomplete message on release")
			}
			d.assembler.Reset()
			d.logger.Info("Received A-RELEASE-RQ")
			return d.assoc.HandleReleaseRequest(ctx)

		case *pdu.Abort:
			d.assembler.Reset()
			return dicomerrors.NewAbortError(v.Source, v.Reason)

		default:
			return d.abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonUnexpectedPDU,
				fmt.Errorf("%w: %s while established", dicomerrors.ErrUnexpectedPDU, pdu.TypeName(p.Type())))
		}
	}
}

// handleData feeds every PDV of a P-DATA-TF to the assembler and dispatches
// the messages it completes. done is set once the association was released.
func (d *Dispatcher) handleData(ctx context.Context, data *pdu.PDataTF) (bool, error) {
	for _, v := range data.Values {
		inflight := d.inflight()
		if !d.assembler.InProgress() {
			inflight.ContextID = v.ContextID
		}

		req, err := d.assembler.Add(v)
		if err != nil {
			inflight.Err = err
			return true, d.abortWith(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameterValue, inflight)
		}
		if req == nil {
			continue
		}

		done, err := d.dispatch(ctx, req)
		if err != nil || done {
			return true, err
		}
	}
	return false, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req *types.Request) (bool, error) {
	msg := req.Message
	failure := &dicomerrors.DispatchError{
		ContextID:    req.ContextID,
		CommandField: msg.CommandField,
		MessageID:    msg.MessageID,
	}

	handler, ok := d.router.Route(msg.CommandField)
	if !ok {
		d.logger.Warn("No handler registered for command",
			"command", types.CommandName(msg.CommandField),
			"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
			"context_id", req.ContextID)
		failure.Err = &dicomerrors.UnregisteredCommandError{CommandField: msg.CommandField}
		return true, d.abortWith(pdu.AbortSourceServiceProvider, pdu.AbortReasonNotSpecified, failure)
	}

	d.logger.Debug("Dispatching command",
		"command", types.CommandName(msg.CommandField),
		"message_id", msg.MessageID,
		"context_id", req.ContextID,
		"dataset_size", len(req.DataSet))

	start := time.Now()
	outcome := handler.HandleCommand(ctx, req, &contextResponder{assoc: d.assoc, contextID: req.ContextID})
	if d.observer != nil {
		d.observer(msg.CommandField, outcome.Kind, time.Since(start))
	}

	switch outcome.Kind {
	case types.Continue:
		return false, nil
	case types.CompleteSuccess:
		d.logger.Info("Command completed the association, releasing",
			"command", types.CommandName(msg.CommandField))
		if err := d.assoc.Release(ctx); err != nil {
			failure.Err = err
			return true, failure
		}
		return true, nil
	default:
		failure.Err = outcome.Reason
		if failure.Err == nil {
			failure.Err = errors.New("handler failed")
		}
		return true, d.abortWith(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified, failure)
	}
}

// inflight describes the partially assembled message, if any.
func (d *Dispatcher) inflight() *dicomerrors.DispatchError {
	e := &dicomerrors.DispatchError{}
	if !d.assembler.InProgress() {
		return e
	}
	contextID, msg := d.assembler.Pending()
	e.ContextID = contextID
	if msg != nil {
		e.CommandField = msg.CommandField
		e.MessageID = msg.MessageID
	}
	return e
}

func (d *Dispatcher) abort(source, reason byte, err error) error {
	failure := d.inflight()
	failure.Err = err
	return d.abortWith(source, reason, failure)
}

func (d *Dispatcher) abortWith(source, reason byte, failure *dicomerrors.DispatchError) error {
	d.assembler.Reset()
	d.logger.Error("Aborting association",
		"error", failure.Err,
		"context_id", failure.ContextID,
		"command_field", fmt.Sprintf("0x%04x", failure.CommandField),
		"message_id", failure.MessageID)
	d.assoc.Abort(source, reason)
	return failure
}

// contextResponder sends responses on the context a request arrived on.
type contextResponder struct {
	assoc     *association.Association
	contextID byte
}

func (r *contextResponder) SendResponse(ctx context.Context, msg *types.Message, dataset []byte) error {
	return Send(ctx, r.assoc, r.contextID, msg, dataset)
}
