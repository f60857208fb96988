// Package services provides reusable DICOM service implementations.
//
// This package contains the command handlers a storage SCP needs: C-ECHO
// verification and C-STORE reception. Handlers are registered in a Registry,
// which the dispatcher consults for every complete request.
package services

import (
	"context"
	"log/slog"

	"github.com/caio-sobreiro/dicomul/interfaces"
	"github.com/caio-sobreiro/dicomul/types"
)

// EchoService handles C-ECHO verification requests.
//
// C-ECHO is used to verify connectivity and application-level communication
// between two DICOM Application Entities (AEs). It's the DICOM equivalent
// of a "ping" operation.
//
// The C-ECHO service is stateless and keeps the association open after
// answering, so a peer may verify and then continue with other requests.
type EchoService struct {
	logger *slog.Logger
}

// NewEchoService creates a new C-ECHO service instance.
func NewEchoService(logger *slog.Logger) *EchoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoService{logger: logger}
}

// HandleCommand answers a C-ECHO request with a success response.
//
// According to DICOM standard PS3.7, C-ECHO has no data set and simply
// returns a status indicating whether the AE is operational. A failure to
// send the response fails the command, which aborts the association.
//
// This method implements the interfaces.CommandHandler interface.
func (s *EchoService) HandleCommand(ctx context.Context, req *types.Request, responder interfaces.Responder) types.Outcome {
	s.logger.DebugContext(ctx, "Processing C-ECHO request",
		"message_id", req.MessageID(),
		"affected_sop_class", req.Message.AffectedSOPClassUID)

	if err := responder.SendResponse(ctx, NewCEchoResponse(req.Message, types.StatusSuccess), nil); err != nil {
		return types.FailOutcome(err)
	}

	s.logger.InfoContext(ctx, "C-ECHO request successful",
		"message_id", req.MessageID())
	return types.ContinueOutcome()
}
