// Package client opens requestor associations and issues C-ECHO and C-STORE
// requests over them.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caio-sobreiro/dicomul/association"
	"github.com/caio-sobreiro/dicomul/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/metrics"
	"github.com/caio-sobreiro/dicomul/pdu"
	"github.com/caio-sobreiro/dicomul/transport"
	"github.com/caio-sobreiro/dicomul/types"
)

const roleRequestor = "requestor"

// DefaultAbstractSyntaxes are proposed when Config.AbstractSyntaxes is empty.
var DefaultAbstractSyntaxes = []string{
	types.VerificationSOPClass,
	types.CTImageStorage,
	types.MRImageStorage,
	types.SecondaryCaptureImageStorage,
}

// Association represents a client-side DICOM association
type Association struct {
	assoc  *association.Association
	logger *slog.Logger
	ended  sync.Once
}

// Config holds client configuration
type Config struct {
	CallingAETitle            string
	CalledAETitle             string
	MaxPDULength              uint32
	ConnectTimeout            time.Duration // Timeout for establishing connection (default: 30s)
	ReadTimeout               time.Duration // Timeout for read operations (default: 60s)
	WriteTimeout              time.Duration // Timeout for write operations (default: 60s)
	TLS                       *tls.Config   // nil for plain TCP
	Logger                    *slog.Logger  // Logger for the association (default: slog.Default())
	PreferredTransferSyntaxes []string      // Transfer syntaxes to propose (default: Explicit VR, Implicit VR)
	AbstractSyntaxes          []string      // One presentation context each (default: DefaultAbstractSyntaxes)
	// RequiredAbstractSyntaxes fail Connect when the acceptor rejects them.
	RequiredAbstractSyntaxes []string
	// Proposals replace the contexts built from AbstractSyntaxes when set.
	Proposals []association.Proposal
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if len(c.PreferredTransferSyntaxes) == 0 {
		c.PreferredTransferSyntaxes = []string{
			types.ExplicitVRLittleEndian,
			types.ImplicitVRLittleEndian,
		}
	}
	if len(c.AbstractSyntaxes) == 0 {
		c.AbstractSyntaxes = DefaultAbstractSyntaxes
	}
	return c
}

func (c Config) proposals() []association.Proposal {
	if len(c.Proposals) > 0 {
		return c.Proposals
	}

	required := make(map[string]bool, len(c.RequiredAbstractSyntaxes))
	for _, uid := range c.RequiredAbstractSyntaxes {
		required[uid] = true
	}

	proposals := make([]association.Proposal, 0, len(c.AbstractSyntaxes))
	for _, uid := range c.AbstractSyntaxes {
		proposals = append(proposals, association.Proposal{
			AbstractSyntax:   uid,
			TransferSyntaxes: c.PreferredTransferSyntaxes,
			Required:         required[uid],
		})
	}
	return proposals
}

// Connect establishes a DICOM association with a remote SCP
func Connect(ctx context.Context, address string, config Config) (*Association, error) {
	config = config.withDefaults()
	logger := config.Logger

	stream, err := transport.Dial(ctx, address, transport.DialOptions{
		ConnectTimeout: config.ConnectTimeout,
		TLS:            config.TLS,
	})
	if err != nil {
		metrics.RecordAssociation(roleRequestor, metrics.OutcomeFailed, 0, false)
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	assoc, err := association.Request(ctx, stream, association.RequestConfig{
		CallingAETitle: config.CallingAETitle,
		CalledAETitle:  config.CalledAETitle,
		MaxPDULength:   config.MaxPDULength,
		Proposals:      config.proposals(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		Logger:         logger,
	})
	if err != nil {
		outcome := metrics.OutcomeFailed
		var assocErr *dicomerrors.AssociationError
		if errors.As(err, &assocErr) {
			outcome = metrics.OutcomeRejected
		}
		metrics.RecordAssociation(roleRequestor, outcome, 0, false)
		return nil, fmt.Errorf("failed to negotiate association: %w", err)
	}
	metrics.AssociationEstablished(roleRequestor)

	logger.Info("DICOM association established",
		"remote_addr", address,
		"calling_ae", config.CallingAETitle,
		"called_ae", config.CalledAETitle,
		"secure", stream.Secure(),
		"accepted_contexts", assoc.Registry().Len())

	return &Association{assoc: assoc, logger: logger}, nil
}

// PresentationContextID finds the presentation context negotiated for the given abstract syntax
func (a *Association) PresentationContextID(abstractSyntax string) (byte, error) {
	return a.assoc.Registry().ResolveID(abstractSyntax)
}

// Contexts returns the accepted presentation contexts in ascending id order.
func (a *Association) Contexts() []association.PresentationContext {
	return a.assoc.Registry().Contexts()
}

// State reports the state of the underlying association.
func (a *Association) State() association.State {
	return a.assoc.State()
}

// Release performs an orderly A-RELEASE and closes the connection.
func (a *Association) Release(ctx context.Context) error {
	err := a.assoc.Release(ctx)
	a.settle()
	if err != nil {
		return fmt.Errorf("failed to release association: %w", err)
	}
	a.logger.Info("DICOM association released")
	return nil
}

// Abort sends an A-ABORT and closes the connection.
func (a *Association) Abort() {
	a.assoc.Abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
	a.settle()
}

// Close closes the connection without any exchange. Prefer Release.
func (a *Association) Close() error {
	err := a.assoc.Close()
	a.settle()
	return err
}

// settle records the end of the association once it reached a terminal state.
func (a *Association) settle() {
	st := a.assoc.State()
	if !st.Terminal() {
		return
	}
	a.ended.Do(func() {
		outcome := metrics.OutcomeAborted
		if st == association.StateReleased {
			outcome = metrics.OutcomeReleased
		}
		metrics.RecordAssociation(roleRequestor, outcome, time.Since(a.assoc.EstablishedAt()), true)
	})
}

// request sends msg with an optional data set and waits for the matching response.
func (a *Association) request(ctx context.Context, contextID byte, msg *types.Message, dataset []byte) (*types.Request, error) {
	defer a.settle()

	if err := dimse.Send(ctx, a.assoc, contextID, msg, dataset); err != nil {
		a.assoc.Abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
		return nil, fmt.Errorf("failed to send %s: %w", types.CommandName(msg.CommandField), err)
	}

	resp, err := dimse.ReceiveMessage(ctx, a.assoc)
	if err != nil {
		return nil, fmt.Errorf("failed to receive %s: %w", types.CommandName(types.ResponseCommandFor(msg.CommandField)), err)
	}

	want := types.ResponseCommandFor(msg.CommandField)
	if resp.Message.CommandField != want || resp.Message.MessageIDBeingRespondedTo != msg.MessageID {
		a.assoc.Abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
		return nil, fmt.Errorf("%w: got %s for message %d, expected %s for message %d",
			dicomerrors.ErrInvalidMessage,
			types.CommandName(resp.Message.CommandField), resp.Message.MessageIDBeingRespondedTo,
			types.CommandName(want), msg.MessageID)
	}
	return resp, nil
}
