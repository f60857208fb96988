package services

import (
	"context"
	"errors"
	"log/slog"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/interfaces"
	"github.com/caio-sobreiro/dicomul/types"
)

// StoreService handles C-STORE requests by passing the received data set to
// an InstanceStore.
//
// Storage failures are reported to the peer in the C-STORE-RSP status and do
// not end the association: out of resources maps to 0xA700, any other
// failure to 0xC000. Only a failure to send the response aborts.
type StoreService struct {
	store  interfaces.InstanceStore
	logger *slog.Logger
}

// NewStoreService creates a C-STORE service persisting instances to store.
func NewStoreService(store interfaces.InstanceStore, logger *slog.Logger) *StoreService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreService{store: store, logger: logger}
}

// HandleCommand stores the data set carried by a C-STORE request and answers
// with the resulting status.
//
// This method implements the interfaces.CommandHandler interface.
func (s *StoreService) HandleCommand(ctx context.Context, req *types.Request, responder interfaces.Responder) types.Outcome {
	msg := req.Message
	logger := s.logger.With(
		"message_id", msg.MessageID,
		"sop_class", types.SOPClassName(msg.AffectedSOPClassUID),
		"sop_instance_uid", msg.AffectedSOPInstanceUID)

	logger.DebugContext(ctx, "Processing C-STORE request",
		"transfer_syntax", req.TransferSyntax,
		"dataset_size", len(req.DataSet))

	rsp := s.persist(ctx, req, logger)
	if err := responder.SendResponse(ctx, rsp, nil); err != nil {
		return types.FailOutcome(err)
	}
	return types.ContinueOutcome()
}

func (s *StoreService) persist(ctx context.Context, req *types.Request, logger *slog.Logger) *types.Message {
	msg := req.Message

	switch {
	case req.DataSet == nil:
		logger.WarnContext(ctx, "C-STORE request without a data set")
		return NewCStoreErrorResponse(msg, types.StatusFailure, "no data set")
	case msg.AffectedSOPInstanceUID == "":
		logger.WarnContext(ctx, "C-STORE request without an affected SOP instance")
		return NewCStoreErrorResponse(msg, types.StatusFailure, "missing affected SOP instance UID")
	case msg.AffectedSOPClassUID != req.AbstractSyntax:
		logger.WarnContext(ctx, "C-STORE SOP class does not match the presentation context",
			"abstract_syntax", req.AbstractSyntax)
		return NewCStoreErrorResponse(msg, types.StatusSOPClassNotSupp, "SOP class not negotiated on this context")
	}

	err := s.store.StoreInstance(ctx, msg.AffectedSOPClassUID, msg.AffectedSOPInstanceUID, req.TransferSyntax, req.DataSet)
	if err != nil {
		status := uint16(types.StatusFailure)
		if errors.Is(err, dicomerrors.ErrOutOfResources) {
			status = types.StatusOutOfResources
		}
		logger.ErrorContext(ctx, "Failed to store instance",
			"error", err,
			"status", status)
		return NewCStoreErrorResponse(msg, status, errorComment(err))
	}

	logger.InfoContext(ctx, "Stored instance", "dataset_size", len(req.DataSet))
	return NewCStoreResponse(msg, types.StatusSuccess)
}

// errorComment fits err into the 64 character Error Comment element.
func errorComment(err error) string {
	comment := err.Error()
	if len(comment) > 64 {
		comment = comment[:64]
	}
	return comment
}
