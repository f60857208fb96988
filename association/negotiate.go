package association

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/pdu"
	"github.com/caio-sobreiro/dicomul/transport"
	"github.com/caio-sobreiro/dicomul/types"
)

// Proposal is one presentation context the requestor offers.
type Proposal struct {
	AbstractSyntax   string
	TransferSyntaxes []string
	// Required fails the negotiation when the acceptor does not accept this context.
	Required bool
}

// RequestConfig configures the requestor side of a negotiation.
type RequestConfig struct {
	CallingAETitle            string
	CalledAETitle             string
	ApplicationContext        string // default: DICOM application context
	MaxPDULength              uint32 // default: 16384
	Proposals                 []Proposal
	ReadTimeout               time.Duration // bounds the wait for the response and later reads
	WriteTimeout              time.Duration
	ImplementationClassUID    string
	ImplementationVersionName string
	Logger                    *slog.Logger
}

// Request negotiates an association as requestor over stream. On any failure
// the stream is closed and no association is returned: an A-ASSOCIATE-RJ
// surfaces as *errors.AssociationError carrying the peer's result, source and
// reason unchanged.
func Request(ctx context.Context, stream transport.Stream, cfg RequestConfig) (*Association, error) {
	if len(cfg.Proposals) == 0 {
		stream.Close()
		return nil, fmt.Errorf("association request: no presentation contexts proposed")
	}
	if len(cfg.Proposals) > pdu.MaxPresentationContexts {
		stream.Close()
		return nil, fmt.Errorf("association request: %d proposals exceed the limit of %d",
			len(cfg.Proposals), pdu.MaxPresentationContexts)
	}

	a := newAssociation(RoleRequestor, stream, cfg.Logger)
	a.localAETitle = cfg.CallingAETitle
	a.remoteAETitle = cfg.CalledAETitle
	a.localMaxPDU = valueOr(cfg.MaxPDULength, pdu.DefaultMaxPDULength)
	a.readTimeout = cfg.ReadTimeout
	a.writeTimeout = cfg.WriteTimeout
	a.logger = a.logger.With(
		"calling_ae", cfg.CallingAETitle,
		"called_ae", cfg.CalledAETitle,
		"remote_addr", stream.RemoteAddr())

	rq := &pdu.AssociateRQ{
		ProtocolVersion:    pdu.ProtocolVersion,
		CalledAETitle:      cfg.CalledAETitle,
		CallingAETitle:     cfg.CallingAETitle,
		ApplicationContext: stringOr(cfg.ApplicationContext, types.ApplicationContextUID),
		UserInformation: pdu.UserInformation{
			MaxPDULength:              a.localMaxPDU,
			ImplementationClassUID:    stringOr(cfg.ImplementationClassUID, DefaultImplementationClassUID),
			ImplementationVersionName: stringOr(cfg.ImplementationVersionName, DefaultImplementationVersionName),
		},
	}
	proposed := make(map[byte]Proposal, len(cfg.Proposals))
	for i, p := range cfg.Proposals {
		id := byte(2*i + 1)
		proposed[id] = p
		rq.PresentationContexts = append(rq.PresentationContexts, pdu.PresentationContextRQ{
			ID:               id,
			AbstractSyntax:   p.AbstractSyntax,
			TransferSyntaxes: p.TransferSyntaxes,
		})
	}

	if err := canceled(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := pdu.Write(stream, rq, a.writeTimeout); err != nil {
		a.Close()
		return nil, fmt.Errorf("send A-ASSOCIATE-RQ: %w", err)
	}
	a.setState(StateRequestSent)
	a.logger.Debug("Sent A-ASSOCIATE-RQ", "proposed_contexts", len(rq.PresentationContexts))

	resp, err := pdu.Read(stream, receiveTimeout(ctx, a.readTimeout), maxNegotiationPDULength)
	if err != nil {
		if errors.Is(err, dicomerrors.ErrMalformedPDU) {
			a.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameterValue)
		} else {
			a.Close()
		}
		return nil, fmt.Errorf("await association response: %w", err)
	}

	switch v := resp.(type) {
	case *pdu.AssociateAC:
		if err := a.establishFromAccept(v, proposed); err != nil {
			return nil, err
		}
		return a, nil

	case *pdu.AssociateRJ:
		a.terminate(StateRejected)
		a.logger.Warn("Association rejected",
			"result", v.Result,
			"source", v.Source,
			"reason", v.Reason.Describe(v.Source))
		return nil, dicomerrors.NewAssociationError(v.Result, v.Source, v.Reason, "rejected by peer")

	case *pdu.Abort:
		a.terminate(StateAborted)
		return nil, dicomerrors.NewAbortError(v.Source, v.Reason)

	default:
		a.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonUnexpectedPDU)
		return nil, fmt.Errorf("%w: %s in reply to A-ASSOCIATE-RQ", dicomerrors.ErrUnexpectedPDU, pdu.TypeName(resp.Type()))
	}
}

func (a *Association) establishFromAccept(ac *pdu.AssociateAC, proposed map[byte]Proposal) error {
	var accepted []PresentationContext
	for _, pc := range ac.PresentationContexts {
		p, ok := proposed[pc.ID]
		if !ok {
			a.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameterValue)
			return dicomerrors.NewMalformedPDUError(pdu.TypeAssociateAC,
				"presentation context id %d was never proposed", pc.ID)
		}
		if pc.Result != pdu.ResultAcceptance {
			a.logger.Debug("Presentation context rejected",
				"context_id", pc.ID,
				"abstract_syntax", p.AbstractSyntax,
				"result", pc.Result.String())
			continue
		}
		if !slices.Contains(p.TransferSyntaxes, pc.TransferSyntax) {
			a.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameterValue)
			return dicomerrors.NewMalformedPDUError(pdu.TypeAssociateAC,
				"presentation context %d accepted with transfer syntax %s that was not proposed", pc.ID, pc.TransferSyntax)
		}
		accepted = append(accepted, PresentationContext{
			ID:             pc.ID,
			AbstractSyntax: p.AbstractSyntax,
			TransferSyntax: pc.TransferSyntax,
		})
	}

	registry, err := NewRegistry(accepted)
	if err != nil {
		a.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameterValue)
		return dicomerrors.NewMalformedPDUError(pdu.TypeAssociateAC, "%v", err)
	}

	for id, p := range proposed {
		if !p.Required {
			continue
		}
		if _, err := registry.Resolve(id); err != nil {
			a.Abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
			return fmt.Errorf("%w: required abstract syntax %s was not accepted",
				dicomerrors.ErrNoPresentationCtx, types.SOPClassName(p.AbstractSyntax))
		}
	}

	a.registry = registry
	a.peerMaxPDU = ac.UserInformation.MaxPDULength
	a.peerImplClass = ac.UserInformation.ImplementationClassUID
	a.peerImplVer = ac.UserInformation.ImplementationVersionName
	a.establishedAt = time.Now()
	a.setState(StateEstablished)

	a.logger.Info("Association established",
		"role", a.role.String(),
		"accepted_contexts", registry.Len(),
		"proposed_contexts", len(proposed),
		"peer_max_pdu_length", a.peerMaxPDU)
	return nil
}

// Policy decides one proposed presentation context on the acceptor side. It
// returns the chosen transfer syntax with ResultAcceptance, or a rejection result.
type Policy func(abstractSyntax string, proposed []string) (string, pdu.Result)

// AcceptConfig configures the acceptor side of a negotiation.
type AcceptConfig struct {
	AETitle string
	// CheckCalledAETitle rejects requests not addressed to AETitle.
	CheckCalledAETitle        bool
	ApplicationContexts       []string // allow-list, default: DICOM application context
	Policy                    Policy   // default: AcceptAll
	MaxPDULength              uint32   // default: 16384
	ReadTimeout               time.Duration
	WriteTimeout              time.Duration
	ImplementationClassUID    string
	ImplementationVersionName string
	Logger                    *slog.Logger
}

// Accept waits for an A-ASSOCIATE-RQ on stream and answers it. The result is
// Established even when every context was rejected; the caller inspects
// Registry().Len() and decides whether to carry on.
func Accept(ctx context.Context, stream transport.Stream, cfg AcceptConfig) (*Association, error) {
	a := newAssociation(RoleAcceptor, stream, cfg.Logger)
	a.localAETitle = cfg.AETitle
	a.localMaxPDU = valueOr(cfg.MaxPDULength, pdu.DefaultMaxPDULength)
	a.readTimeout = cfg.ReadTimeout
	a.writeTimeout = cfg.WriteTimeout
	a.logger = a.logger.With("remote_addr", stream.RemoteAddr())

	if err := canceled(ctx); err != nil {
		a.Close()
		return nil, err
	}

	p, err := pdu.Read(stream, receiveTimeout(ctx, a.readTimeout), maxNegotiationPDULength)
	if err != nil {
		if errors.Is(err, dicomerrors.ErrMalformedPDU) {
			a.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameterValue)
		} else {
			a.Close()
		}
		return nil, fmt.Errorf("await A-ASSOCIATE-RQ: %w", err)
	}

	rq, ok := p.(*pdu.AssociateRQ)
	if !ok {
		a.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonUnexpectedPDU)
		return nil, fmt.Errorf("%w: expected A-ASSOCIATE-RQ, got %s", dicomerrors.ErrUnexpectedPDU, pdu.TypeName(p.Type()))
	}
	a.setState(StateRequestReceived)
	a.remoteAETitle = rq.CallingAETitle
	a.peerMaxPDU = rq.UserInformation.MaxPDULength
	a.peerImplClass = rq.UserInformation.ImplementationClassUID
	a.peerImplVer = rq.UserInformation.ImplementationVersionName
	a.logger = a.logger.With("calling_ae", rq.CallingAETitle, "called_ae", rq.CalledAETitle)
	a.logger.Debug("Received A-ASSOCIATE-RQ",
		"proposed_contexts", len(rq.PresentationContexts),
		"peer_max_pdu_length", a.peerMaxPDU,
		"implementation_class_uid", a.peerImplClass)

	allowed := cfg.ApplicationContexts
	if len(allowed) == 0 {
		allowed = []string{types.ApplicationContextUID}
	}
	if !slices.Contains(allowed, rq.ApplicationContext) {
		return nil, a.reject(dicomerrors.RejectResultPermanent, dicomerrors.RejectSourceServiceUser,
			dicomerrors.RejectReasonApplicationContextNotSupported,
			fmt.Sprintf("application context %s not supported", rq.ApplicationContext))
	}
	if rq.ProtocolVersion&pdu.ProtocolVersion == 0 {
		return nil, a.reject(dicomerrors.RejectResultPermanent, dicomerrors.RejectSourceServiceProviderACSE,
			dicomerrors.RejectReasonProtocolVersionNotSupported,
			fmt.Sprintf("protocol version 0x%04x not supported", rq.ProtocolVersion))
	}
	if strings.TrimSpace(rq.CallingAETitle) == "" {
		return nil, a.reject(dicomerrors.RejectResultPermanent, dicomerrors.RejectSourceServiceUser,
			dicomerrors.RejectReasonCallingAETitleNotRecognized, "calling AE title is blank")
	}
	if strings.TrimSpace(rq.CalledAETitle) == "" {
		return nil, a.reject(dicomerrors.RejectResultPermanent, dicomerrors.RejectSourceServiceUser,
			dicomerrors.RejectReasonCalledAETitleNotRecognized, "called AE title is blank")
	}
	if cfg.CheckCalledAETitle && rq.CalledAETitle != cfg.AETitle {
		return nil, a.reject(dicomerrors.RejectResultPermanent, dicomerrors.RejectSourceServiceUser,
			dicomerrors.RejectReasonCalledAETitleNotRecognized,
			fmt.Sprintf("called AE title %q not recognized", rq.CalledAETitle))
	}

	policy := cfg.Policy
	if policy == nil {
		policy = AcceptAll
	}

	ac := &pdu.AssociateAC{
		ProtocolVersion:    pdu.ProtocolVersion,
		CalledAETitle:      rq.CalledAETitle,
		CallingAETitle:     rq.CallingAETitle,
		ApplicationContext: rq.ApplicationContext,
		UserInformation: pdu.UserInformation{
			MaxPDULength:              a.localMaxPDU,
			ImplementationClassUID:    stringOr(cfg.ImplementationClassUID, DefaultImplementationClassUID),
			ImplementationVersionName: stringOr(cfg.ImplementationVersionName, DefaultImplementationVersionName),
		},
	}
	var accepted []PresentationContext
	for _, pc := range rq.PresentationContexts {
		ts, result := decide(policy, pc)
		ac.PresentationContexts = append(ac.PresentationContexts, pdu.PresentationContextAC{
			ID:             pc.ID,
			Result:         result,
			TransferSyntax: ts,
		})
		a.logger.Debug("Presentation context negotiation result",
			"context_id", pc.ID,
			"abstract_syntax", pc.AbstractSyntax,
			"proposed_transfer_syntaxes", pc.TransferSyntaxes,
			"selected_transfer_syntax", ts,
			"result", result.String())
		if result == pdu.ResultAcceptance {
			accepted = append(accepted, PresentationContext{
				ID:             pc.ID,
				AbstractSyntax: pc.AbstractSyntax,
				TransferSyntax: ts,
			})
		}
	}

	// Decode already rejected duplicate ids, so this cannot fail.
	registry, err := NewRegistry(accepted)
	if err != nil {
		a.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameterValue)
		return nil, err
	}

	if err := pdu.Write(stream, ac, a.writeTimeout); err != nil {
		a.Close()
		return nil, fmt.Errorf("send A-ASSOCIATE-AC: %w", err)
	}

	a.registry = registry
	a.establishedAt = time.Now()
	a.setState(StateEstablished)
	a.logger.Info("Association established",
		"role", a.role.String(),
		"accepted_contexts", registry.Len(),
		"proposed_contexts", len(rq.PresentationContexts),
		"peer_max_pdu_length", a.peerMaxPDU)
	if registry.Len() == 0 {
		a.logger.Warn("No presentation contexts accepted")
	}
	return a, nil
}

// decide runs the policy and enforces that an acceptance names one of the
// proposed transfer syntaxes.
func decide(policy Policy, pc pdu.PresentationContextRQ) (string, pdu.Result) {
	ts, result := policy(pc.AbstractSyntax, pc.TransferSyntaxes)
	if result != pdu.ResultAcceptance {
		return "", result
	}
	if ts == "" || !slices.Contains(pc.TransferSyntaxes, ts) {
		return "", pdu.ResultTransferSyntaxesNotSupported
	}
	return ts, pdu.ResultAcceptance
}

func (a *Association) reject(result dicomerrors.AssociationRejectResult, source dicomerrors.AssociationRejectSource,
	reason dicomerrors.AssociationRejectReason, msg string) error {
	a.logger.Warn("Rejecting association",
		"result", result.String(),
		"source", source.String(),
		"reason", reason.Describe(source),
		"detail", msg)

	if err := pdu.Write(a.stream, &pdu.AssociateRJ{Result: result, Source: source, Reason: reason}, a.writeTimeout); err != nil {
		a.logger.Debug("Failed to send A-ASSOCIATE-RJ", "error", err)
	}
	a.terminate(StateRejected)
	return dicomerrors.NewAssociationError(result, source, reason, msg)
}

// AcceptAll accepts every abstract syntax with the first proposed transfer syntax.
func AcceptAll(_ string, proposed []string) (string, pdu.Result) {
	if len(proposed) == 0 {
		return "", pdu.ResultTransferSyntaxesNotSupported
	}
	return proposed[0], pdu.ResultAcceptance
}

// PreferredSyntaxPolicy accepts abstract syntaxes for which accept returns true,
// choosing the first entry of preferred that the requestor proposed. With no
// preferred syntaxes the requestor's first choice wins.
func PreferredSyntaxPolicy(accept func(abstractSyntax string) bool, preferred ...string) Policy {
	return func(abstractSyntax string, proposed []string) (string, pdu.Result) {
		if accept != nil && !accept(abstractSyntax) {
			return "", pdu.ResultAbstractSyntaxNotSupported
		}
		if len(preferred) == 0 {
			return AcceptAll(abstractSyntax, proposed)
		}
		for _, ts := range preferred {
			if slices.Contains(proposed, ts) {
				return ts, pdu.ResultAcceptance
			}
		}
		return "", pdu.ResultTransferSyntaxesNotSupported
	}
}

// AbstractSyntaxes returns a predicate matching exactly the given UIDs.
func AbstractSyntaxes(uids ...string) func(string) bool {
	set := make(map[string]bool, len(uids))
	for _, uid := range uids {
		set[uid] = true
	}
	return func(uid string) bool { return set[uid] }
}

func valueOr(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
