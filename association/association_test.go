package association

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/pdu"
	"github.com/caio-sobreiro/dicomul/transport"
	"github.com/caio-sobreiro/dicomul/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func streamPair(t *testing.T) (transport.Stream, transport.Stream) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return transport.NewStream(a), transport.NewStream(b)
}

type acceptResult struct {
	assoc *Association
	err   error
}

func startAcceptor(stream transport.Stream, cfg AcceptConfig) <-chan acceptResult {
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	done := make(chan acceptResult, 1)
	go func() {
		a, err := Accept(context.Background(), stream, cfg)
		done <- acceptResult{a, err}
	}()
	return done
}

func requestConfig(proposals ...Proposal) RequestConfig {
	return RequestConfig{
		CallingAETitle: "ECHOSCU",
		CalledAETitle:  "STORESCP",
		Proposals:      proposals,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   2 * time.Second,
		Logger:         quietLogger(),
	}
}

func TestNegotiate_VerificationScenario(t *testing.T) {
	reqStream, accStream := streamPair(t)

	accepted := startAcceptor(accStream, AcceptConfig{
		AETitle: "STORESCP",
		Policy:  PreferredSyntaxPolicy(AbstractSyntaxes(types.VerificationSOPClass), types.ImplicitVRLittleEndian),
	})

	req, err := Request(context.Background(), reqStream, requestConfig(Proposal{
		AbstractSyntax:   types.VerificationSOPClass,
		TransferSyntaxes: []string{types.ImplicitVRLittleEndian, types.ExplicitVRLittleEndian},
	}))
	require.NoError(t, err)

	acc := <-accepted
	require.NoError(t, acc.err)

	want := []PresentationContext{{ID: 1, AbstractSyntax: types.VerificationSOPClass, TransferSyntax: types.ImplicitVRLittleEndian}}
	assert.Equal(t, want, req.Registry().Contexts())
	assert.Equal(t, want, acc.assoc.Registry().Contexts())

	assert.Equal(t, StateEstablished, req.State())
	assert.Equal(t, StateEstablished, acc.assoc.State())
	assert.Equal(t, RoleRequestor, req.Role())
	assert.Equal(t, RoleAcceptor, acc.assoc.Role())
	assert.Equal(t, "ECHOSCU", acc.assoc.RemoteAETitle())
	assert.Equal(t, "STORESCP", req.RemoteAETitle())
	assert.Equal(t, pdu.DefaultMaxPDULength, req.PeerMaxPDULength())
	assert.Equal(t, pdu.DefaultMaxPDULength, acc.assoc.PeerMaxPDULength())

	class, version := acc.assoc.PeerImplementation()
	assert.Equal(t, DefaultImplementationClassUID, class)
	assert.Equal(t, DefaultImplementationVersionName, version)
	assert.False(t, req.EstablishedAt().IsZero())
}

func TestNegotiate_SecondContextRejected(t *testing.T) {
	reqStream, accStream := streamPair(t)

	accepted := startAcceptor(accStream, AcceptConfig{
		Policy: PreferredSyntaxPolicy(AbstractSyntaxes(types.VerificationSOPClass)),
	})

	req, err := Request(context.Background(), reqStream, requestConfig(
		Proposal{AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
		Proposal{AbstractSyntax: types.CTImageStorage, TransferSyntaxes: []string{types.ExplicitVRLittleEndian}},
	))
	require.NoError(t, err)

	acc := <-accepted
	require.NoError(t, acc.err)

	for _, a := range []*Association{req, acc.assoc} {
		assert.Equal(t, StateEstablished, a.State())
		assert.Equal(t, 1, a.Registry().Len())

		_, err := a.Registry().Resolve(3)
		var unknown *dicomerrors.UnknownPresentationContextError
		assert.True(t, errors.As(err, &unknown))

		id, err := a.Registry().ResolveID(types.VerificationSOPClass)
		require.NoError(t, err)
		assert.Equal(t, byte(1), id)

		_, err = a.Registry().ResolveID(types.CTImageStorage)
		assert.True(t, errors.Is(err, dicomerrors.ErrNotNegotiated))
	}
}

func TestNegotiate_ApplicationContextNotSupported(t *testing.T) {
	reqStream, accStream := streamPair(t)

	accepted := startAcceptor(accStream, AcceptConfig{})

	cfg := requestConfig(Proposal{AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}})
	cfg.ApplicationContext = "1.2.3.4"
	req, err := Request(context.Background(), reqStream, cfg)
	require.Error(t, err)
	assert.Nil(t, req)

	var assocErr *dicomerrors.AssociationError
	require.True(t, errors.As(err, &assocErr))
	assert.Equal(t, dicomerrors.RejectResultPermanent, assocErr.Result)
	assert.Equal(t, dicomerrors.RejectSourceServiceUser, assocErr.Source)
	assert.Equal(t, dicomerrors.RejectReasonApplicationContextNotSupported, assocErr.Reason)

	acc := <-accepted
	require.Error(t, acc.err)
	assert.Nil(t, acc.assoc)
	var accErr *dicomerrors.AssociationError
	require.True(t, errors.As(acc.err, &accErr))
	assert.Equal(t, dicomerrors.RejectReasonApplicationContextNotSupported, accErr.Reason)
	assert.Equal(t, dicomerrors.RejectSourceServiceUser, accErr.Source)
}

func TestAccept_RejectsUnknownApplicationContextWithoutAccept(t *testing.T) {
	reqStream, accStream := streamPair(t)
	accepted := startAcceptor(accStream, AcceptConfig{})

	rq := &pdu.AssociateRQ{
		ProtocolVersion:    pdu.ProtocolVersion,
		CalledAETitle:      "STORESCP",
		CallingAETitle:     "ECHOSCU",
		ApplicationContext: "1.2.3.4",
		PresentationContexts: []pdu.PresentationContextRQ{
			{ID: 1, AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
		},
		UserInformation: pdu.UserInformation{MaxPDULength: 16384},
	}
	require.NoError(t, pdu.Write(reqStream, rq, time.Second))

	resp, err := pdu.Read(reqStream, time.Second, 0)
	require.NoError(t, err)
	rj, ok := resp.(*pdu.AssociateRJ)
	require.True(t, ok, "got %T", resp)
	assert.Equal(t, dicomerrors.RejectSourceServiceUser, rj.Source)
	assert.Equal(t, dicomerrors.RejectReasonApplicationContextNotSupported, rj.Reason)

	// the acceptor closes the transport right after the reject
	_, err = pdu.Read(reqStream, time.Second, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe))

	acc := <-accepted
	require.Error(t, acc.err)
}

func TestAccept_CalledAETitleCheck(t *testing.T) {
	reqStream, accStream := streamPair(t)
	accepted := startAcceptor(accStream, AcceptConfig{AETitle: "ARCHIVE", CheckCalledAETitle: true})

	_, err := Request(context.Background(), reqStream, requestConfig(
		Proposal{AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
	))
	var assocErr *dicomerrors.AssociationError
	require.True(t, errors.As(err, &assocErr))
	assert.Equal(t, dicomerrors.RejectReasonCalledAETitleNotRecognized, assocErr.Reason)

	acc := <-accepted
	require.Error(t, acc.err)
}

func TestAccept_BlankAETitlesRejected(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		reason dicomerrors.AssociationRejectReason
	}{
		{"blank called", 10, dicomerrors.RejectReasonCalledAETitleNotRecognized},
		{"blank calling", 26, dicomerrors.RejectReasonCallingAETitleNotRecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqStream, accStream := streamPair(t)
			accepted := startAcceptor(accStream, AcceptConfig{WriteTimeout: time.Second})

			raw, err := pdu.Encode(&pdu.AssociateRQ{
				ProtocolVersion:    pdu.ProtocolVersion,
				CalledAETitle:      "STORESCP",
				CallingAETitle:     "ECHOSCU",
				ApplicationContext: types.ApplicationContextUID,
				PresentationContexts: []pdu.PresentationContextRQ{
					{ID: 1, AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
				},
				UserInformation: pdu.UserInformation{MaxPDULength: 16384},
			})
			require.NoError(t, err)
			copy(raw[tt.offset:tt.offset+16], bytes.Repeat([]byte{' '}, 16))
			require.NoError(t, reqStream.WriteAll(raw, time.Now().Add(time.Second)))

			resp, err := pdu.Read(reqStream, time.Second, 0)
			require.NoError(t, err)
			rj, ok := resp.(*pdu.AssociateRJ)
			require.True(t, ok, "got %T", resp)
			assert.Equal(t, dicomerrors.RejectResultPermanent, rj.Result)
			assert.Equal(t, dicomerrors.RejectSourceServiceUser, rj.Source)
			assert.Equal(t, tt.reason, rj.Reason)

			acc := <-accepted
			var assocErr *dicomerrors.AssociationError
			require.True(t, errors.As(acc.err, &assocErr))
			assert.Equal(t, tt.reason, assocErr.Reason)
		})
	}
}

func TestNegotiate_AcceptedIDsUnique(t *testing.T) {
	reqStream, accStream := streamPair(t)
	accepted := startAcceptor(accStream, AcceptConfig{Policy: AcceptAll})

	var proposals []Proposal
	for i := 0; i < pdu.MaxPresentationContexts; i++ {
		proposals = append(proposals, Proposal{
			AbstractSyntax:   types.CTImageStorage,
			TransferSyntaxes: []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian},
		})
	}
	req, err := Request(context.Background(), reqStream, requestConfig(proposals...))
	require.NoError(t, err)

	acc := <-accepted
	require.NoError(t, acc.err)

	for _, a := range []*Association{req, acc.assoc} {
		contexts := a.Registry().Contexts()
		require.Len(t, contexts, pdu.MaxPresentationContexts)
		seen := map[byte]bool{}
		for i, pc := range contexts {
			assert.False(t, seen[pc.ID])
			seen[pc.ID] = true
			assert.Equal(t, byte(2*i+1), pc.ID)
		}
	}
}

func TestAccept_PolicyChoosingUnproposedSyntaxIsCoerced(t *testing.T) {
	reqStream, accStream := streamPair(t)
	accepted := startAcceptor(accStream, AcceptConfig{
		Policy: func(string, []string) (string, pdu.Result) {
			return types.JPEGBaseline8Bit, pdu.ResultAcceptance
		},
	})

	req, err := Request(context.Background(), reqStream, requestConfig(
		Proposal{AbstractSyntax: types.CTImageStorage, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
	))
	require.NoError(t, err)
	assert.Equal(t, 0, req.Registry().Len())

	acc := <-accepted
	require.NoError(t, acc.err)
	assert.Equal(t, StateEstablished, acc.assoc.State())
	assert.Equal(t, 0, acc.assoc.Registry().Len())
}

func TestRequest_RequiredContextNotAccepted(t *testing.T) {
	reqStream, accStream := streamPair(t)
	accepted := startAcceptor(accStream, AcceptConfig{
		Policy: PreferredSyntaxPolicy(AbstractSyntaxes(types.VerificationSOPClass)),
	})

	done := make(chan error, 1)
	go func() {
		acc := <-accepted
		if acc.err != nil {
			done <- acc.err
			return
		}
		p, err := acc.assoc.Receive(context.Background())
		if err == nil {
			if _, ok := p.(*pdu.Abort); !ok {
				err = errors.New("expected A-ABORT")
			}
		}
		if err == nil && acc.assoc.State() != StateAborted {
			err = errors.New("acceptor not aborted")
		}
		done <- err
	}()

	_, err := Request(context.Background(), reqStream, requestConfig(
		Proposal{AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
		Proposal{AbstractSyntax: types.CTImageStorage, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}, Required: true},
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dicomerrors.ErrNoPresentationCtx))

	require.NoError(t, <-done)
}

func TestRequest_Timeout(t *testing.T) {
	reqStream, accStream := streamPair(t)

	// acceptor reads the request and never answers
	go func() {
		_, _ = pdu.Read(accStream, time.Second, 0)
	}()

	cfg := requestConfig(Proposal{AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}})
	cfg.ReadTimeout = 50 * time.Millisecond
	_, err := Request(context.Background(), reqStream, cfg)
	require.Error(t, err)
	assert.True(t, dicomerrors.IsTimeout(err))
}

func TestRequest_MalformedResponse(t *testing.T) {
	reqStream, accStream := streamPair(t)

	go func() {
		if _, err := pdu.Read(accStream, time.Second, 0); err != nil {
			return
		}
		// A-ASSOCIATE-AC whose declared length has no room for the fixed part
		_ = accStream.WriteAll([]byte{pdu.TypeAssociateAC, 0, 0, 0, 0, 4, 0, 0, 0, 0}, time.Now().Add(time.Second))
		// drain the A-ABORT
		_, _ = pdu.Read(accStream, time.Second, 0)
	}()

	_, err := Request(context.Background(), reqStream, requestConfig(
		Proposal{AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dicomerrors.ErrMalformedPDU))
}

func TestRequest_AcceptWithUnproposedTransferSyntax(t *testing.T) {
	reqStream, accStream := streamPair(t)

	go func() {
		if _, err := pdu.Read(accStream, time.Second, 0); err != nil {
			return
		}
		_ = pdu.Write(accStream, &pdu.AssociateAC{
			ProtocolVersion:    pdu.ProtocolVersion,
			CalledAETitle:      "STORESCP",
			CallingAETitle:     "ECHOSCU",
			ApplicationContext: types.ApplicationContextUID,
			PresentationContexts: []pdu.PresentationContextAC{
				{ID: 1, Result: pdu.ResultAcceptance, TransferSyntax: types.JPEGBaseline8Bit},
			},
			UserInformation: pdu.UserInformation{MaxPDULength: 16384},
		}, time.Second)
		_, _ = pdu.Read(accStream, time.Second, 0)
	}()

	_, err := Request(context.Background(), reqStream, requestConfig(
		Proposal{AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dicomerrors.ErrMalformedPDU))
}

func TestRequest_CanceledContext(t *testing.T) {
	reqStream, _ := streamPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Request(ctx, reqStream, requestConfig(
		Proposal{AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, dicomerrors.ErrOperationCanceled))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRequest_NoProposals(t *testing.T) {
	reqStream, _ := streamPair(t)
	_, err := Request(context.Background(), reqStream, requestConfig())
	assert.Error(t, err)
}

func TestAccept_UnexpectedFirstPDU(t *testing.T) {
	reqStream, accStream := streamPair(t)
	accepted := startAcceptor(accStream, AcceptConfig{})

	require.NoError(t, pdu.Write(reqStream, &pdu.ReleaseRQ{}, time.Second))

	resp, err := pdu.Read(reqStream, time.Second, 0)
	require.NoError(t, err)
	abort, ok := resp.(*pdu.Abort)
	require.True(t, ok, "got %T", resp)
	assert.Equal(t, pdu.AbortSourceServiceProvider, abort.Source)
	assert.Equal(t, pdu.AbortReasonUnexpectedPDU, abort.Reason)

	acc := <-accepted
	assert.True(t, errors.Is(acc.err, dicomerrors.ErrUnexpectedPDU))
}

func TestAccept_MalformedRequestAborts(t *testing.T) {
	reqStream, accStream := streamPair(t)
	accepted := startAcceptor(accStream, AcceptConfig{})

	// A-ASSOCIATE-RQ shorter than its fixed part
	require.NoError(t, reqStream.WriteAll([]byte{pdu.TypeAssociateRQ, 0, 0, 0, 0, 2, 0, 1}, time.Now().Add(time.Second)))

	resp, err := pdu.Read(reqStream, time.Second, 0)
	require.NoError(t, err)
	abort, ok := resp.(*pdu.Abort)
	require.True(t, ok, "got %T", resp)
	assert.Equal(t, pdu.AbortReasonInvalidPDUParameterValue, abort.Reason)

	acc := <-accepted
	assert.True(t, errors.Is(acc.err, dicomerrors.ErrMalformedPDU))
}

func establish(t *testing.T, proposals ...Proposal) (*Association, *Association) {
	t.Helper()
	reqStream, accStream := streamPair(t)
	accepted := startAcceptor(accStream, AcceptConfig{Policy: AcceptAll, WriteTimeout: time.Second})

	req, err := Request(context.Background(), reqStream, requestConfig(proposals...))
	require.NoError(t, err)
	acc := <-accepted
	require.NoError(t, acc.err)
	return req, acc.assoc
}

var verification = Proposal{AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}}

func TestRelease(t *testing.T) {
	req, acc := establish(t, verification)

	done := make(chan error, 1)
	go func() {
		p, err := acc.Receive(context.Background())
		if err != nil {
			done <- err
			return
		}
		if _, ok := p.(*pdu.ReleaseRQ); !ok {
			done <- errors.New("expected A-RELEASE-RQ")
			return
		}
		done <- acc.HandleReleaseRequest(context.Background())
	}()

	require.NoError(t, req.Release(context.Background()))
	require.NoError(t, <-done)

	assert.Equal(t, StateReleased, req.State())
	assert.Equal(t, StateReleased, acc.State())

	// a released association cannot be used again
	err := req.Send(context.Background(), &pdu.ReleaseRQ{})
	assert.True(t, errors.Is(err, dicomerrors.ErrNotEstablished))
	_, err = req.Receive(context.Background())
	assert.True(t, errors.Is(err, dicomerrors.ErrNotEstablished))
}

func TestRelease_OversizedResponseIsMalformed(t *testing.T) {
	req, acc := establish(t, verification)
	require.Equal(t, uint32(pdu.DefaultMaxPDULength), req.LocalMaxPDULength())

	peer := make(chan pdu.PDU, 1)
	go func() {
		p, err := acc.Receive(context.Background())
		if err != nil {
			peer <- nil
			return
		}
		if _, ok := p.(*pdu.ReleaseRQ); !ok {
			peer <- nil
			return
		}
		// A-RELEASE-RP header declaring a 1 GiB body
		header := []byte{pdu.TypeReleaseRP, 0, 0x40, 0x00, 0x00, 0x00}
		if err := acc.stream.WriteAll(header, time.Now().Add(time.Second)); err != nil {
			peer <- nil
			return
		}
		p, _ = pdu.Read(acc.stream, 2*time.Second, 0)
		peer <- p
	}()

	err := req.Release(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, dicomerrors.ErrMalformedPDU), "got %v", err)
	assert.False(t, dicomerrors.IsTimeout(err))
	assert.Equal(t, StateAborted, req.State())

	p := <-peer
	abort, ok := p.(*pdu.Abort)
	require.True(t, ok, "got %T", p)
	assert.Equal(t, pdu.AbortSourceServiceProvider, abort.Source)
	assert.Equal(t, pdu.AbortReasonInvalidPDUParameterValue, abort.Reason)
}

func TestAbort_Idempotent(t *testing.T) {
	req, acc := establish(t, verification)

	done := make(chan pdu.PDU, 1)
	go func() {
		p, _ := acc.Receive(context.Background())
		done <- p
	}()

	req.Abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
	req.Abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
	assert.Equal(t, StateAborted, req.State())

	p := <-done
	abort, ok := p.(*pdu.Abort)
	require.True(t, ok, "got %T", p)
	assert.Equal(t, pdu.AbortSourceServiceUser, abort.Source)
	assert.Equal(t, StateAborted, acc.State())

	require.NoError(t, req.Close())
}

func TestNextMessageID(t *testing.T) {
	a := newAssociation(RoleRequestor, nil, quietLogger())
	assert.Equal(t, uint16(1), a.NextMessageID())
	assert.Equal(t, uint16(2), a.NextMessageID())

	a.nextMessageID.Store(0xFFFE)
	assert.Equal(t, uint16(0xFFFF), a.NextMessageID())
	assert.Equal(t, uint16(1), a.NextMessageID())
}

func TestSendMessage_FragmentsToPeerMaximum(t *testing.T) {
	reqStream, accStream := streamPair(t)
	accepted := startAcceptor(accStream, AcceptConfig{Policy: AcceptAll, MaxPDULength: 32})

	req, err := Request(context.Background(), reqStream, requestConfig(verification))
	require.NoError(t, err)
	acc := <-accepted
	require.NoError(t, acc.err)
	assert.Equal(t, uint32(32), req.PeerMaxPDULength())

	command := bytes.Repeat([]byte{0xAA}, 60)
	dataset := bytes.Repeat([]byte{0xBB}, 10)

	sent := make(chan error, 1)
	go func() {
		sent <- req.SendMessage(context.Background(), 1, command, dataset)
	}()

	var gotCommand, gotDataset []byte
	var pdvs []pdu.PDV
	for {
		p, err := acc.assoc.Receive(context.Background())
		require.NoError(t, err)
		tf, ok := p.(*pdu.PDataTF)
		require.True(t, ok)
		require.Len(t, tf.Values, 1)
		v := tf.Values[0]
		assert.LessOrEqual(t, len(v.Data)+6, 32)
		pdvs = append(pdvs, v)
		if v.Command {
			gotCommand = append(gotCommand, v.Data...)
		} else {
			gotDataset = append(gotDataset, v.Data...)
			if v.Last {
				break
			}
		}
	}
	require.NoError(t, <-sent)

	assert.Equal(t, command, gotCommand)
	assert.Equal(t, dataset, gotDataset)
	// 60 command bytes in 26 byte fragments, then one data set fragment
	require.Len(t, pdvs, 4)
	assert.False(t, pdvs[0].Last)
	assert.False(t, pdvs[1].Last)
	assert.True(t, pdvs[2].Last)
	assert.True(t, pdvs[3].Last)
}

func TestSendMessage_UnknownContext(t *testing.T) {
	req, _ := establish(t, verification)

	err := req.SendMessage(context.Background(), 5, []byte{1}, nil)
	var unknown *dicomerrors.UnknownPresentationContextError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, byte(5), unknown.ContextID)
}

func TestFragment(t *testing.T) {
	payload := []byte("0123456789abcdefghij")

	tests := []struct {
		name      string
		maxData   int
		fragments int
	}{
		{"unlimited", 0, 1},
		{"single", 64, 1},
		{"exact fit", 20, 1},
		{"two", 10, 2},
		{"uneven", 7, 3},
		{"one byte each", 1, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdvs := Fragment(3, payload, false, tt.maxData)
			require.Len(t, pdvs, tt.fragments)

			var joined []byte
			for i, v := range pdvs {
				assert.Equal(t, byte(3), v.ContextID)
				assert.False(t, v.Command)
				assert.Equal(t, i == len(pdvs)-1, v.Last)
				joined = append(joined, v.Data...)
			}
			assert.Equal(t, payload, joined)
		})
	}

	empty := Fragment(1, nil, true, 16)
	require.Len(t, empty, 1)
	assert.True(t, empty[0].Last)
	assert.True(t, empty[0].Command)
	assert.Empty(t, empty[0].Data)
}

func TestPolicies(t *testing.T) {
	proposed := []string{types.ImplicitVRLittleEndian, types.ExplicitVRLittleEndian}

	ts, result := AcceptAll("1.2.3", proposed)
	assert.Equal(t, types.ImplicitVRLittleEndian, ts)
	assert.Equal(t, pdu.ResultAcceptance, result)

	_, result = AcceptAll("1.2.3", nil)
	assert.Equal(t, pdu.ResultTransferSyntaxesNotSupported, result)

	storage := PreferredSyntaxPolicy(func(uid string) bool {
		return uid == types.VerificationSOPClass || types.IsStorageSOPClass(uid)
	}, types.UncompressedTransferSyntaxes()...)

	ts, result = storage(types.CTImageStorage, proposed)
	assert.Equal(t, types.ExplicitVRLittleEndian, ts)
	assert.Equal(t, pdu.ResultAcceptance, result)

	_, result = storage(types.StudyRootQueryRetrieveInformationModelFind, proposed)
	assert.Equal(t, pdu.ResultAbstractSyntaxNotSupported, result)

	_, result = storage(types.CTImageStorage, []string{types.JPEGBaseline8Bit})
	assert.Equal(t, pdu.ResultTransferSyntaxesNotSupported, result)

	ts, result = decide(storage, pdu.PresentationContextRQ{ID: 1, AbstractSyntax: types.MRImageStorage, TransferSyntaxes: proposed})
	assert.Equal(t, types.ExplicitVRLittleEndian, ts)
	assert.Equal(t, pdu.ResultAcceptance, result)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "established", StateEstablished.String())
	assert.Equal(t, "release-requested", StateReleaseRequested.String())
	assert.True(t, StateRejected.Terminal())
	assert.False(t, StateEstablished.Terminal())
	assert.Equal(t, "acceptor", RoleAcceptor.String())
}
