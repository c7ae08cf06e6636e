// quic.go - QUIC listener.
// Copyright (C) 2023  Masala.
// Copyright (C) 2026  Katzenpost Developers.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package incoming

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/rendezvous/server/internal/constants"
)

const quicErrNoStream quic.ApplicationErrorCode = 1

// quicConn wraps a QUIC connection and its single stream as a net.Conn.
type quicConn struct {
	*quic.Stream
	conn *quic.Conn
}

func (q *quicConn) LocalAddr() net.Addr {
	return q.conn.LocalAddr()
}

func (q *quicConn) RemoteAddr() net.Addr {
	return q.conn.RemoteAddr()
}

// Close closes the stream and the connection carrying it.
func (q *quicConn) Close() error {
	q.Stream.CancelRead(0)
	err := q.Stream.Close()
	q.conn.CloseWithError(0, "")
	return err
}

// quicListener implements net.Listener, yielding one quicConn per QUIC
// connection, bound to the first stream the client opens.
type quicListener struct {
	l   *quic.Listener
	log *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	acceptCh  chan net.Conn
	closeOnce sync.Once
}

func (l *quicListener) acceptWorker() {
	for {
		conn, err := l.l.Accept(l.ctx)
		if err != nil {
			return
		}
		go l.acceptStream(conn)
	}
}

func (l *quicListener) acceptStream(conn *quic.Conn) {
	ctx, cancel := context.WithTimeout(l.ctx, constants.HandshakeTimeout)
	defer cancel()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.log.Debugf("No stream from %v: %v", conn.RemoteAddr(), err)
		conn.CloseWithError(quicErrNoStream, "no stream")
		return
	}
	c := &quicConn{Stream: stream, conn: conn}
	select {
	case l.acceptCh <- c:
	case <-l.ctx.Done():
		c.Close()
	}
}

func (l *quicListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.acceptCh:
		return c, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *quicListener) Addr() net.Addr {
	return l.l.Addr()
}

func (l *quicListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.l.Close()
	})
	return err
}

func newQuicListener(addr string, log *logging.Logger) (*quicListener, error) {
	tlsConfig, err := generateTLSConfig()
	if err != nil {
		return nil, err
	}
	ql, err := quic.ListenAddr(addr, tlsConfig, &quic.Config{
		// Must be below MaxIdleTimeout, as idle clients are normal here.
		KeepAlivePeriod: 15 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	l := &quicListener{
		l:        ql,
		log:      log,
		acceptCh: make(chan net.Conn),
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	go l.acceptWorker()
	return l, nil
}

// generateTLSConfig sets up a bare-bones TLS config with an ephemeral self
// signed certificate.  Clients are expected to skip verification, the
// rendezvous protocol carries its own end to end keys.
func generateTLSConfig() (*tls.Config, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, pubKey, privKey)
	if err != nil {
		return nil, err
	}
	pkb, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkb})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	// ALPN (NextProtos) is externally visible as part of the QUIC TLS
	// handshake, so pick a common protocol rather than something uniquely
	// fingerprintable.
	return &tls.Config{Certificates: []tls.Certificate{tlsCert}, NextProtos: []string{http3.NextProtoH3}}, nil
}
