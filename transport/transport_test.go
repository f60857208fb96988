package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
	"github.com/caio-sobreiro/dicomul/internal/testutil/tlstest"
)

func TestConnStream_ReadWrite(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cs := NewStream(client)
	ss := NewStream(server)
	assert.False(t, cs.Secure())

	go func() {
		_ = cs.WriteAll([]byte("hello world"), time.Now().Add(time.Second))
	}()

	buf := make([]byte, 11)
	require.NoError(t, ss.ReadFull(buf, time.Now().Add(time.Second)))
	assert.Equal(t, "hello world", string(buf))
}

func TestConnStream_ReadTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewStream(server)
	err := s.ReadFull(make([]byte, 4), time.Now().Add(20*time.Millisecond))
	require.Error(t, err)

	var timeoutErr *dicomerrors.TimeoutError
	assert.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, "read", timeoutErr.Operation)
	assert.True(t, dicomerrors.IsTimeout(err))
}

func TestConnStream_PeerClosed(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	defer server.Close()

	s := NewStream(server)
	require.NoError(t, client.Close())

	err = s.ReadFull(make([]byte, 4), time.Now().Add(2*time.Second))
	require.Error(t, err)

	var netErr *dicomerrors.NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.Equal(t, "read", netErr.Op)
	assert.True(t, errors.Is(err, io.EOF))
	assert.False(t, dicomerrors.IsTimeout(err))
}

func TestConnStream_WriteTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// nobody reads from the other end of the pipe
	s := NewStream(client)
	err := s.WriteAll([]byte{1, 2, 3}, time.Now().Add(20*time.Millisecond))
	require.Error(t, err)
	assert.True(t, dicomerrors.IsTimeout(err))
}

func TestDialAndAccept_Plain(t *testing.T) {
	l, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer l.Close()
	assert.False(t, l.Secure())

	accepted := make(chan Stream, 1)
	go func() {
		s, err := l.Accept(context.Background())
		if err == nil {
			accepted <- s
		}
	}()

	cs, err := Dial(context.Background(), l.Addr().String(), DialOptions{ConnectTimeout: time.Second})
	require.NoError(t, err)
	defer cs.Close()

	ss := <-accepted
	defer ss.Close()

	require.NoError(t, cs.WriteAll([]byte{0x01, 0x02}, time.Now().Add(time.Second)))
	buf := make([]byte, 2)
	require.NoError(t, ss.ReadFull(buf, time.Now().Add(time.Second)))
	assert.Equal(t, []byte{0x01, 0x02}, buf)
}

func TestDial_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = Dial(context.Background(), addr, DialOptions{ConnectTimeout: time.Second})
	require.Error(t, err)

	var netErr *dicomerrors.NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.Equal(t, "connect", netErr.Op)
}

func TestDialAndAccept_TLS(t *testing.T) {
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "test-root")
	serverCert, serverKey := ca.IssueServerCert(t, dir, "store-scp")
	clientCert, clientKey := ca.IssueClientCert(t, dir, "echo-scu")

	serverMaterial, err := LoadTLSMaterial(serverCert, serverKey, ca.CAFile())
	require.NoError(t, err)
	assert.Equal(t, 1, serverMaterial.TrustedFiles())

	clientMaterial, err := LoadTLSMaterial(clientCert, clientKey, ca.CAFile())
	require.NoError(t, err)

	l, err := Listen("127.0.0.1:0", serverMaterial.ServerConfig(true))
	require.NoError(t, err)
	defer l.Close()
	assert.True(t, l.Secure())

	type result struct {
		s   Stream
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		s, err := l.Accept(context.Background())
		accepted <- result{s, err}
	}()

	cs, err := Dial(context.Background(), l.Addr().String(), DialOptions{
		ConnectTimeout: 2 * time.Second,
		TLS:            clientMaterial.ClientConfig(""),
	})
	require.NoError(t, err)
	defer cs.Close()
	assert.True(t, cs.Secure())

	r := <-accepted
	require.NoError(t, r.err)
	defer r.s.Close()
	assert.True(t, r.s.Secure())

	go func() {
		_ = cs.WriteAll([]byte("PDU"), time.Now().Add(time.Second))
	}()
	buf := make([]byte, 3)
	require.NoError(t, r.s.ReadFull(buf, time.Now().Add(time.Second)))
	assert.Equal(t, "PDU", string(buf))
}

func TestAccept_TLSHandshakeFailure(t *testing.T) {
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "test-root")
	serverCert, serverKey := ca.IssueServerCert(t, dir, "store-scp")

	serverMaterial, err := LoadTLSMaterial(serverCert, serverKey, ca.CAFile())
	require.NoError(t, err)

	l, err := Listen("127.0.0.1:0", serverMaterial.ServerConfig(true))
	require.NoError(t, err)
	defer l.Close()
	l.HandshakeTimeout = time.Second

	accepted := make(chan error, 1)
	go func() {
		_, err := l.Accept(context.Background())
		accepted <- err
	}()

	// plain TCP peer speaking garbage instead of a ClientHello
	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	_, _ = conn.Write([]byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x10})
	conn.Close()

	err = <-accepted
	require.Error(t, err)
	var hsErr *HandshakeError
	assert.True(t, errors.As(err, &hsErr))
}

func TestDial_TLSUntrustedServer(t *testing.T) {
	dir := t.TempDir()
	serverCA := tlstest.NewAuthority(t, dir, "server-root")
	otherCA := tlstest.NewAuthority(t, dir, "other-root")
	serverCert, serverKey := serverCA.IssueServerCert(t, dir, "store-scp")
	clientCert, clientKey := otherCA.IssueClientCert(t, dir, "echo-scu")

	serverMaterial, err := LoadTLSMaterial(serverCert, serverKey)
	require.NoError(t, err)
	clientMaterial, err := LoadTLSMaterial(clientCert, clientKey, otherCA.CAFile())
	require.NoError(t, err)

	l, err := Listen("127.0.0.1:0", serverMaterial.ServerConfig(false))
	require.NoError(t, err)
	defer l.Close()

	go func() {
		s, err := l.Accept(context.Background())
		if err == nil {
			s.Close()
		}
	}()

	_, err = Dial(context.Background(), l.Addr().String(), DialOptions{
		ConnectTimeout: 2 * time.Second,
		TLS:            clientMaterial.ClientConfig(""),
	})
	require.Error(t, err)
	var netErr *dicomerrors.NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.Equal(t, "tls handshake", netErr.Op)
}

func TestLoadTLSMaterial_Errors(t *testing.T) {
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "test-root")
	cert, key := ca.IssueServerCert(t, dir, "node")

	_, err := LoadTLSMaterial(dir+"/missing.crt", key)
	assert.Error(t, err)

	_, err = LoadTLSMaterial(cert, key, dir+"/missing-ca.crt")
	assert.Error(t, err)

	// a private key is not a certificate
	_, err = LoadTLSMaterial(cert, key, key)
	assert.Error(t, err)

	material, err := LoadTLSMaterial(cert, key)
	require.NoError(t, err)
	assert.Equal(t, 0, material.TrustedFiles())
	assert.Nil(t, material.ServerConfig(false).ClientCAs)
}
