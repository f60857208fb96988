// Package transport provides the byte stream the upper layer runs on.
//
// A Stream is either a plain TCP connection or a TLS connection that has
// already completed its handshake; the association and dispatch layers only
// see the Stream interface and never inspect certificates.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
)

// Default timeouts
const (
	DefaultConnectTimeout   = 30 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
)

// Stream is a connected, optionally secured, byte stream.
//
// ReadFull and WriteAll honour an absolute deadline; the zero time disables it.
// A deadline expiry is reported as *errors.TimeoutError, any other failure as
// *errors.NetworkError.
type Stream interface {
	ReadFull(buf []byte, deadline time.Time) error
	WriteAll(buf []byte, deadline time.Time) error
	Close() error
	RemoteAddr() net.Addr
	Secure() bool
}

type connStream struct {
	conn   net.Conn
	secure bool
}

// NewStream wraps a plain connection.
func NewStream(conn net.Conn) Stream {
	_, secure := conn.(*tls.Conn)
	return &connStream{conn: conn, secure: secure}
}

// ReadFull reads exactly len(buf) bytes.
func (s *connStream) ReadFull(buf []byte, deadline time.Time) error {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return dicomerrors.NewNetworkError("set read deadline", err)
	}
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return classify("read", deadline, err)
	}
	return nil
}

// WriteAll writes all of buf.
func (s *connStream) WriteAll(buf []byte, deadline time.Time) error {
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return dicomerrors.NewNetworkError("set write deadline", err)
	}
	if _, err := s.conn.Write(buf); err != nil {
		return classify("write", deadline, err)
	}
	return nil
}

func (s *connStream) Close() error {
	return s.conn.Close()
}

func (s *connStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *connStream) Secure() bool {
	return s.secure
}

func classify(op string, deadline time.Time, err error) error {
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		budget := "deadline"
		if !deadline.IsZero() {
			budget = fmt.Sprintf("deadline %s", deadline.Format(time.RFC3339Nano))
		}
		return dicomerrors.NewTimeoutError(op, budget)
	}
	return dicomerrors.NewNetworkError(op, err)
}

// DialOptions configures an outgoing connection.
type DialOptions struct {
	ConnectTimeout time.Duration // default: 30s; also bounds the TLS handshake
	TLS            *tls.Config   // nil for plain TCP
}

// Dial connects to address and, when opts.TLS is set, completes a TLS client handshake.
func Dial(ctx context.Context, address string, opts DialOptions) (Stream, error) {
	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, classify("connect", time.Time{}, err)
	}

	if opts.TLS == nil {
		return NewStream(conn), nil
	}

	cfg := opts.TLS
	if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		cfg = cfg.Clone()
		if host, _, err := net.SplitHostPort(address); err == nil {
			cfg.ServerName = host
		}
	}

	tlsConn := tls.Client(conn, cfg)
	if err := handshake(ctx, tlsConn, timeout); err != nil {
		conn.Close()
		return nil, err
	}
	return NewStream(tlsConn), nil
}

func handshake(ctx context.Context, conn *tls.Conn, timeout time.Duration) error {
	hsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.HandshakeContext(hsCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return dicomerrors.NewTimeoutError("tls handshake", timeout.String())
		}
		return dicomerrors.NewNetworkError("tls handshake", err)
	}
	return nil
}

// Listener accepts incoming streams, running the TLS handshake for secured listeners.
type Listener struct {
	listener         net.Listener
	tlsConfig        *tls.Config
	HandshakeTimeout time.Duration // default: 30s
}

// Listen opens a TCP listener. A non-nil tlsConfig makes every accepted stream secure.
func Listen(address string, tlsConfig *tls.Config) (*Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return NewListener(l, tlsConfig), nil
}

// NewListener wraps an existing net.Listener.
func NewListener(l net.Listener, tlsConfig *tls.Config) *Listener {
	return &Listener{listener: l, tlsConfig: tlsConfig}
}

// Accept waits for the next connection. For secured listeners the returned
// stream has completed its handshake.
func (l *Listener) Accept(ctx context.Context) (Stream, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	if l.tlsConfig == nil {
		return NewStream(conn), nil
	}

	timeout := l.HandshakeTimeout
	if timeout == 0 {
		timeout = DefaultHandshakeTimeout
	}
	tlsConn := tls.Server(conn, l.tlsConfig)
	if err := handshake(ctx, tlsConn, timeout); err != nil {
		conn.Close()
		return nil, &HandshakeError{RemoteAddr: conn.RemoteAddr(), Err: err}
	}
	return NewStream(tlsConn), nil
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops the listener.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Secure reports whether accepted streams are TLS secured.
func (l *Listener) Secure() bool {
	return l.tlsConfig != nil
}

// HandshakeError is returned by Accept when a peer connected but failed the
// TLS handshake. The listener itself remains usable.
type HandshakeError struct {
	RemoteAddr net.Addr
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("tls handshake with %v failed: %v", e.RemoteAddr, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
