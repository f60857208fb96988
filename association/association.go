// Package association negotiates DICOM associations and owns the live session
// that results from a successful negotiation.
package association

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/pdu"
	"github.com/caio-sobreiro/dicomul/transport"
)

// Default values used when a config leaves them unset
const (
	DefaultImplementationClassUID    = "1.2.826.0.1.3680043.9.7433.1.1"
	DefaultImplementationVersionName = "DICOMUL_1.0"

	// maxNegotiationPDULength caps A-ASSOCIATE PDUs, which are not bound by
	// the negotiated maximum.
	maxNegotiationPDULength = 1 << 20

	abortWriteTimeout = 2 * time.Second
)

// Role tells which side of the negotiation created an association.
type Role int

const (
	RoleRequestor Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleAcceptor {
		return "acceptor"
	}
	return "requestor"
}

// State of an association.
type State int

const (
	StateIdle State = iota
	StateRequestSent
	StateRequestReceived
	StateEstablished
	StateRejected
	StateAborted
	StateReleaseRequested
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestSent:
		return "request-sent"
	case StateRequestReceived:
		return "request-received"
	case StateEstablished:
		return "established"
	case StateRejected:
		return "rejected"
	case StateAborted:
		return "aborted"
	case StateReleaseRequested:
		return "release-requested"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateAborted || s == StateReleased
}

// Association is a negotiated session over one transport stream.
//
// It is driven by a single goroutine. The only field safe for concurrent use
// is the message id counter; state reads are mutex guarded for observers.
type Association struct {
	role          Role
	stream        transport.Stream
	localAETitle  string
	remoteAETitle string
	localMaxPDU   uint32
	peerMaxPDU    uint32
	registry      *Registry
	readTimeout   time.Duration
	writeTimeout  time.Duration
	peerImplClass string
	peerImplVer   string
	logger        *slog.Logger
	establishedAt time.Time
	nextMessageID atomic.Uint32
	mu            sync.Mutex
	state         State
}

func newAssociation(role Role, stream transport.Stream, logger *slog.Logger) *Association {
	if logger == nil {
		logger = slog.Default()
	}
	return &Association{
		role:     role,
		stream:   stream,
		registry: &Registry{byID: map[byte]PresentationContext{}},
		logger:   logger,
		state:    StateIdle,
	}
}

func (a *Association) Role() Role                 { return a.role }
func (a *Association) LocalAETitle() string       { return a.localAETitle }
func (a *Association) RemoteAETitle() string      { return a.remoteAETitle }
func (a *Association) LocalMaxPDULength() uint32  { return a.localMaxPDU }
func (a *Association) PeerMaxPDULength() uint32   { return a.peerMaxPDU }
func (a *Association) Registry() *Registry        { return a.registry }
func (a *Association) ReadTimeout() time.Duration { return a.readTimeout }

// RemoteAddr returns the peer's network address.
func (a *Association) RemoteAddr() net.Addr {
	return a.stream.RemoteAddr()
}

// Secure reports whether the association runs over TLS.
func (a *Association) Secure() bool {
	return a.stream.Secure()
}

// PeerImplementation returns the implementation class UID and version name the peer announced.
func (a *Association) PeerImplementation() (string, string) {
	return a.peerImplClass, a.peerImplVer
}

// EstablishedAt returns when negotiation completed.
func (a *Association) EstablishedAt() time.Time {
	return a.establishedAt
}

// Logger returns the association scoped logger.
func (a *Association) Logger() *slog.Logger {
	return a.logger
}

// State returns the current state.
func (a *Association) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Association) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// NextMessageID returns the next message id. Ids start at 1 and 0 is skipped on wrap.
func (a *Association) NextMessageID() uint16 {
	for {
		id := uint16(a.nextMessageID.Add(1))
		if id != 0 {
			return id
		}
	}
}

func receiveTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		if timeout == 0 || remaining < timeout {
			return remaining
		}
	}
	return timeout
}

func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", dicomerrors.ErrOperationCanceled, err)
	}
	return nil
}

// Receive waits for the next PDU within the read timeout. An A-ABORT from the
// peer closes the transport and moves the association to Aborted before it is returned.
func (a *Association) Receive(ctx context.Context) (pdu.PDU, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}
	if st := a.State(); st.Terminal() {
		return nil, fmt.Errorf("%w: state %s", dicomerrors.ErrNotEstablished, st)
	}

	p, err := pdu.Read(a.stream, receiveTimeout(ctx, a.readTimeout), a.localMaxPDU)
	if err != nil {
		return nil, err
	}

	if abort, ok := p.(*pdu.Abort); ok {
		a.logger.Info("Received A-ABORT",
			"source", abort.Source,
			"reason", abort.Reason)
		a.terminate(StateAborted)
	}
	return p, nil
}

// Send writes one PDU within the write timeout.
func (a *Association) Send(ctx context.Context, p pdu.PDU) error {
	if err := canceled(ctx); err != nil {
		return err
	}
	switch st := a.State(); st {
	case StateEstablished, StateReleaseRequested:
	default:
		return fmt.Errorf("%w: state %s", dicomerrors.ErrNotEstablished, st)
	}
	return pdu.Write(a.stream, p, a.writeTimeout)
}

// SendMessage sends a command and an optional data set on contextID, split
// into P-DATA-TF PDUs that fit the peer's maximum PDU length. A nil dataset
// sends the command only.
func (a *Association) SendMessage(ctx context.Context, contextID byte, command, dataset []byte) error {
	if _, err := a.registry.Resolve(contextID); err != nil {
		return err
	}

	maxData := 0
	if a.peerMaxPDU > 0 {
		maxData = int(a.peerMaxPDU) - 6
	}

	for _, v := range Fragment(contextID, command, true, maxData) {
		if err := a.Send(ctx, &pdu.PDataTF{Values: []pdu.PDV{v}}); err != nil {
			return fmt.Errorf("send command fragment: %w", err)
		}
	}
	if dataset == nil {
		return nil
	}
	for _, v := range Fragment(contextID, dataset, false, maxData) {
		if err := a.Send(ctx, &pdu.PDataTF{Values: []pdu.PDV{v}}); err != nil {
			return fmt.Errorf("send data set fragment: %w", err)
		}
	}
	return nil
}

// Fragment splits data into PDVs carrying at most maxData bytes each. Only the
// final PDV is marked last; empty data yields a single empty last PDV. A
// non-positive maxData disables splitting.
func Fragment(contextID byte, data []byte, command bool, maxData int) []pdu.PDV {
	if maxData <= 0 || len(data) <= maxData {
		return []pdu.PDV{{ContextID: contextID, Command: command, Last: true, Data: data}}
	}

	pdvs := make([]pdu.PDV, 0, (len(data)+maxData-1)/maxData)
	for offset := 0; offset < len(data); offset += maxData {
		end := offset + maxData
		if end > len(data) {
			end = len(data)
		}
		pdvs = append(pdvs, pdu.PDV{
			ContextID: contextID,
			Command:   command,
			Last:      end == len(data),
			Data:      data[offset:end],
		})
	}
	return pdvs
}

// Release performs the two-way A-RELEASE exchange and closes the transport.
func (a *Association) Release(ctx context.Context) error {
	if st := a.State(); st != StateEstablished {
		return fmt.Errorf("%w: state %s", dicomerrors.ErrNotEstablished, st)
	}

	a.setState(StateReleaseRequested)
	if err := pdu.Write(a.stream, &pdu.ReleaseRQ{}, a.writeTimeout); err != nil {
		a.Abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
		return fmt.Errorf("send A-RELEASE-RQ: %w", err)
	}
	a.logger.Debug("Sent A-RELEASE-RQ")

	for {
		p, err := pdu.Read(a.stream, receiveTimeout(ctx, a.readTimeout), a.localMaxPDU)
		if err != nil {
			if errors.Is(err, dicomerrors.ErrMalformedPDU) {
				a.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonInvalidPDUParameterValue)
			} else {
				a.Abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
			}
			return fmt.Errorf("await A-RELEASE-RP: %w", err)
		}

		switch v := p.(type) {
		case *pdu.ReleaseRP:
			a.logger.Debug("Received A-RELEASE-RP")
			a.terminate(StateReleased)
			return nil
		case *pdu.ReleaseRQ:
			// release collision, answer and keep waiting for our RP
			if err := pdu.Write(a.stream, &pdu.ReleaseRP{}, a.writeTimeout); err != nil {
				a.Abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
				return fmt.Errorf("send A-RELEASE-RP: %w", err)
			}
		case *pdu.PDataTF:
			a.logger.Debug("Discarding P-DATA-TF received during release", "pdvs", len(v.Values))
		case *pdu.Abort:
			a.terminate(StateAborted)
			return dicomerrors.NewAbortError(v.Source, v.Reason)
		default:
			a.Abort(pdu.AbortSourceServiceProvider, pdu.AbortReasonUnexpectedPDU)
			return fmt.Errorf("%w: %s during release", dicomerrors.ErrUnexpectedPDU, pdu.TypeName(p.Type()))
		}
	}
}

// HandleReleaseRequest answers a peer's A-RELEASE-RQ and closes the transport.
func (a *Association) HandleReleaseRequest(ctx context.Context) error {
	a.setState(StateReleaseRequested)
	err := pdu.Write(a.stream, &pdu.ReleaseRP{}, a.writeTimeout)
	a.terminate(StateReleased)
	if err != nil {
		return fmt.Errorf("send A-RELEASE-RP: %w", err)
	}
	a.logger.Debug("Sent A-RELEASE-RP")
	return nil
}

// Abort sends an A-ABORT on a best effort basis and closes the transport.
// It is the single teardown path for protocol errors, local failures and
// cancellation, and calling it more than once is harmless.
func (a *Association) Abort(source, reason byte) {
	a.mu.Lock()
	if a.state.Terminal() {
		a.mu.Unlock()
		return
	}
	a.state = StateAborted
	a.mu.Unlock()

	data, err := pdu.Encode(&pdu.Abort{Source: source, Reason: reason})
	if err == nil {
		if werr := a.stream.WriteAll(data, time.Now().Add(abortWriteTimeout)); werr != nil {
			a.logger.Debug("Failed to send A-ABORT", "error", werr)
		}
	}
	a.stream.Close()
	a.logger.Info("Association aborted",
		"source", source,
		"reason", reason)
}

// Close closes the transport without any exchange. A live association is
// considered aborted afterwards.
func (a *Association) Close() error {
	a.mu.Lock()
	if !a.state.Terminal() {
		a.state = StateAborted
	}
	a.mu.Unlock()

	if err := a.stream.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (a *Association) terminate(s State) {
	a.setState(s)
	a.stream.Close()
}
