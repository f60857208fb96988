// Package server hosts acceptor associations: it negotiates every incoming
// connection and dispatches its commands to a router.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/caio-sobreiro/dicomul/association"
	"github.com/caio-sobreiro/dicomul/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/interfaces"
	"github.com/caio-sobreiro/dicomul/metrics"
	"github.com/caio-sobreiro/dicomul/pdu"
	"github.com/caio-sobreiro/dicomul/transport"
	"github.com/caio-sobreiro/dicomul/types"
)

const roleAcceptor = "acceptor"

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithReadTimeout sets the read timeout for client connections.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.ReadTimeout = timeout
	}
}

// WithWriteTimeout sets the write timeout for client connections.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.WriteTimeout = timeout
	}
}

// WithTLS makes ListenAndServe accept TLS connections only.
func WithTLS(config *tls.Config) Option {
	return func(s *Server) {
		s.TLS = config
	}
}

// WithPolicy sets the presentation context acceptance policy.
func WithPolicy(policy association.Policy) Option {
	return func(s *Server) {
		s.Policy = policy
	}
}

// WithCalledAETitleCheck rejects associations not addressed to the server's AE title.
func WithCalledAETitleCheck(check bool) Option {
	return func(s *Server) {
		s.CheckCalledAETitle = check
	}
}

// WithMaxPDULength sets the maximum PDU length announced to peers.
func WithMaxPDULength(length uint32) Option {
	return func(s *Server) {
		s.MaxPDULength = length
	}
}

// WithAbortOnNoContexts controls whether an association that accepted no
// presentation context is aborted right after negotiation.
func WithAbortOnNoContexts(abort bool) Option {
	return func(s *Server) {
		s.AbortOnNoContexts = abort
	}
}

// Server exposes a reusable DICOM listener that wires the association and DIMSE layers.
type Server struct {
	AETitle            string
	Router             interfaces.CommandRouter
	Logger             *slog.Logger
	ReadTimeout        time.Duration // Read timeout for connections (default: 60s)
	WriteTimeout       time.Duration // Write timeout for connections (default: 60s)
	TLS                *tls.Config
	Policy             association.Policy // default: association.AcceptAll
	CheckCalledAETitle bool
	MaxPDULength       uint32
	AbortOnNoContexts  bool // default: true
}

// New builds a Server with the provided AE title and router.
func New(aeTitle string, router interfaces.CommandRouter, opts ...Option) *Server {
	srv := &Server{
		AETitle:           aeTitle,
		Router:            router,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		AbortOnNoContexts: true,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// ListenAndServe listens on the given address and serves until the context is done or an error occurs.
func ListenAndServe(ctx context.Context, address, aeTitle string, router interfaces.CommandRouter, opts ...Option) error {
	return New(aeTitle, router, opts...).ListenAndServe(ctx, address)
}

// ListenAndServe listens on address, with TLS when configured, and serves
// until the context is done or an error occurs.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	listener, err := transport.Listen(address, s.TLS)
	if err != nil {
		return err
	}
	defer listener.Close()

	return s.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled or an
// unrecoverable error occurs. Live associations are aborted on cancellation
// and Serve returns once all of them ended.
func (s *Server) Serve(ctx context.Context, listener *transport.Listener) error {
	if listener == nil {
		return errors.New("dicomserver: listener is required")
	}
	if s == nil {
		return errors.New("dicomserver: server is nil")
	}
	if s.Router == nil {
		return errors.New("dicomserver: router is required")
	}
	if s.AETitle == "" {
		return errors.New("dicomserver: AE title is required")
	}

	logger := s.logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	logger.Info("DICOM server listening",
		"address", listener.Addr().String(),
		"ae_title", s.AETitle,
		"secure", listener.Secure())

	var (
		wg       sync.WaitGroup
		serveErr error
	)

	for {
		stream, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var handshakeErr *transport.HandshakeError
			if errors.As(err, &handshakeErr) {
				logger.Warn("TLS handshake failed",
					"remote_addr", handshakeErr.RemoteAddr,
					"error", handshakeErr.Err)
				continue
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Warn("Accept timeout", "error", err)
				continue
			}
			serveErr = err
			break
		}

		wg.Add(1)
		go func(st transport.Stream) {
			defer wg.Done()
			s.handleConnection(ctx, st, logger)
		}(stream)
	}

	wg.Wait()

	if serveErr != nil {
		return serveErr
	}

	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, stream transport.Stream, logger *slog.Logger) {
	logger.Info("Accepted DICOM connection",
		"remote_addr", stream.RemoteAddr(),
		"secure", stream.Secure())

	assoc, err := association.Accept(ctx, stream, association.AcceptConfig{
		AETitle:            s.AETitle,
		CheckCalledAETitle: s.CheckCalledAETitle,
		Policy:             s.Policy,
		MaxPDULength:       s.MaxPDULength,
		ReadTimeout:        s.ReadTimeout,
		WriteTimeout:       s.WriteTimeout,
		Logger:             logger,
	})
	if err != nil {
		outcome := metrics.OutcomeFailed
		var assocErr *dicomerrors.AssociationError
		if errors.As(err, &assocErr) {
			outcome = metrics.OutcomeRejected
		}
		metrics.RecordAssociation(roleAcceptor, outcome, 0, false)
		logger.Warn("Association negotiation failed",
			"remote_addr", stream.RemoteAddr(),
			"error", err)
		return
	}
	metrics.AssociationEstablished(roleAcceptor)

	implClass, implVersion := assoc.PeerImplementation()
	assoc.Logger().Debug("Negotiated association parameters",
		"local_ae", assoc.LocalAETitle(),
		"local_max_pdu", assoc.LocalMaxPDULength(),
		"peer_max_pdu", assoc.PeerMaxPDULength(),
		"peer_implementation_class_uid", implClass,
		"peer_implementation_version", implVersion)

	if assoc.Registry().Len() == 0 && s.AbortOnNoContexts {
		assoc.Abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
		s.finish(assoc, dicomerrors.ErrNoPresentationCtx)
		return
	}

	// unblocks the dispatcher's pending read on shutdown
	stop := context.AfterFunc(ctx, func() {
		assoc.Abort(pdu.AbortSourceServiceUser, pdu.AbortReasonNotSpecified)
	})
	defer stop()

	dispatcher := dimse.NewDispatcher(assoc, s.Router, assoc.Logger(), dimse.WithCommandObserver(recordCommand))
	s.finish(assoc, dispatcher.Run(ctx))
}

// finish records and logs how an established association ended.
func (s *Server) finish(assoc *association.Association, err error) {
	outcome := metrics.OutcomeAborted
	if assoc.State() == association.StateReleased {
		outcome = metrics.OutcomeReleased
	}
	lifetime := time.Since(assoc.EstablishedAt())
	metrics.RecordAssociation(roleAcceptor, outcome, lifetime, true)

	if err != nil {
		assoc.Logger().Warn("Association ended",
			"outcome", outcome,
			"duration", lifetime,
			"error", err)
		return
	}
	assoc.Logger().Info("Association ended",
		"outcome", outcome,
		"duration", lifetime)
}

func recordCommand(commandField uint16, outcome types.OutcomeKind, elapsed time.Duration) {
	metrics.RecordCommand(types.CommandName(commandField), outcome.String(), elapsed)
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
