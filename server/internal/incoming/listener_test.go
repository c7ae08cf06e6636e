// listener_test.go - Listener and incoming connection tests.
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
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/rendezvous/core/log"
	"github.com/katzenpost/rendezvous/server/config"
	"github.com/katzenpost/rendezvous/server/internal/constants"
	"github.com/katzenpost/rendezvous/server/internal/glue"
	"github.com/katzenpost/rendezvous/server/internal/protocol"
	"github.com/katzenpost/rendezvous/server/internal/rendezvous"
)

const testMaxLineLength = 512

type testGlue struct {
	cfg        *config.Config
	logBackend *log.Backend
	rz         *rendezvous.Rendezvous
}

func (g *testGlue) Config() *config.Config {
	return g.cfg
}

func (g *testGlue) LogBackend() *log.Backend {
	return g.logBackend
}

func (g *testGlue) Rendezvous() glue.Rendezvous {
	return g.rz
}

func (g *testGlue) Listeners() []glue.Listener {
	return nil
}

func newTestListener(t *testing.T, addr string) (*testGlue, glue.Listener) {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	g := &testGlue{
		cfg: &config.Config{
			Server: &config.Server{Identifier: "rendezvous.test"},
			Debug: &config.Debug{
				MaxLineLength:     testMaxLineLength,
				KeepAliveInterval: 1000,
				EventQueueLength:  16,
			},
		},
		logBackend: logBackend,
		rz:         rendezvous.New(logBackend, 16),
	}
	l, err := New(g, 0, addr)
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Halt()
		g.rz.Halt()
	})
	return g, l
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func dialTCP(t *testing.T, l glue.Listener) *testClient {
	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	return newTestClient(t, conn)
}

func (c *testClient) sendLine(line string) {
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(c.t, err)
}

func (c *testClient) send(msgType string, payload map[string]interface{}) {
	b, err := protocol.Encode(msgType, payload)
	require.NoError(c.t, err)
	_, err = c.conn.Write(b)
	require.NoError(c.t, err)
}

func (c *testClient) join(id string) {
	c.send(protocol.TypeJoin, map[string]interface{}{
		protocol.FieldCryptoParams: map[string]interface{}{
			"identityString":   id,
			"publicKey":        "pk-" + id,
			"preKeyList":       []interface{}{"pre-" + id},
			"signedPreKeyList": []interface{}{"signed-" + id},
		},
	})
}

func (c *testClient) recv() protocol.Envelope {
	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	line, err := c.r.ReadBytes('\n')
	require.NoError(c.t, err)
	env, err := protocol.Decode(line)
	require.NoError(c.t, err)
	return env
}

func (c *testClient) recvType(msgType string) protocol.Envelope {
	env := c.recv()
	typ, err := env.Type()
	require.NoError(c.t, err)
	require.Equal(c.t, msgType, typ)
	return env
}

func (c *testClient) requireSilence() {
	c.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
	_, err := c.r.ReadByte()
	var netErr net.Error
	require.ErrorAs(c.t, err, &netErr)
	require.True(c.t, netErr.Timeout())
}

func (c *testClient) requireClosed() {
	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, err := c.r.ReadByte()
	require.Error(c.t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		require.False(c.t, netErr.Timeout())
	}
}

func partnerIdentity(t *testing.T, env protocol.Envelope) string {
	var params map[string]interface{}
	require.NoError(t, env.Field(protocol.FieldCryptoParams, &params))
	return params["identityString"].(string)
}

// pairAndChat drives two clients through a full session: both join and
// search, they exchange a chat, and a disconnects.
func pairAndChat(t *testing.T, a, b *testClient) {
	require := require.New(t)

	a.join("alice")
	a.send(protocol.TypeSearch, nil)
	b.join("bob")
	b.send(protocol.TypeSearch, nil)

	require.Equal("bob", partnerIdentity(t, a.recvType(protocol.TypePartnerFound)))
	require.Equal("alice", partnerIdentity(t, b.recvType(protocol.TypePartnerFound)))

	a.send(protocol.TypeChat, map[string]interface{}{"message": "ciphertext", "counter": "1"})
	env := b.recvType(protocol.TypeChat)
	var message, counter string
	require.NoError(env.Field("message", &message))
	require.NoError(env.Field("counter", &counter))
	require.Equal("ciphertext", message)
	require.Equal("1", counter)

	a.conn.Close()
	b.recvType(protocol.TypePartnerDisconnected)
}

func TestTCPPairing(t *testing.T) {
	_, l := newTestListener(t, "tcp://127.0.0.1:0")
	a, b := dialTCP(t, l), dialTCP(t, l)
	pairAndChat(t, a, b)

	require.Eventually(t, func() bool { return l.NumConns() == 1 }, 10*time.Second, 10*time.Millisecond)
}

func TestLoneSearcher(t *testing.T) {
	require := require.New(t)
	g, l := newTestListener(t, "tcp://127.0.0.1:0")

	a := dialTCP(t, l)
	a.join("alice")
	a.send(protocol.TypeSearch, nil)
	a.requireSilence()

	counts, err := g.rz.Status()
	require.NoError(err)
	require.Equal(1, counts[rendezvous.StateSearching])
}

func TestMisbehavingClient(t *testing.T) {
	require := require.New(t)
	g, l := newTestListener(t, "tcp://127.0.0.1:0")

	a := dialTCP(t, l)

	// Out of order and malformed input is dropped, and the connection
	// stays usable.
	a.send(protocol.TypeSearch, nil)
	a.sendLine("{not json")
	a.sendLine(`["JOIN"]`)
	a.sendLine(`{"kind":"JOIN"}`)
	a.join("alice")
	a.requireSilence()

	counts, err := g.rz.Status()
	require.NoError(err)
	require.Equal(1, counts[rendezvous.StateJoined])

	// An empty line closes the connection.
	a.sendLine("")
	a.requireClosed()
	require.Eventually(func() bool { return l.NumConns() == 0 }, 10*time.Second, 10*time.Millisecond)
}

func TestOversizedLine(t *testing.T) {
	require := require.New(t)
	_, l := newTestListener(t, "tcp://127.0.0.1:0")

	a := dialTCP(t, l)
	a.sendLine(`{"type":"CHAT","message":"` + strings.Repeat("A", testMaxLineLength) + `"}`)
	a.requireClosed()
	require.Eventually(func() bool { return l.NumConns() == 0 }, 10*time.Second, 10*time.Millisecond)
}

func TestHaltClosesConnections(t *testing.T) {
	require := require.New(t)
	_, l := newTestListener(t, "tcp://127.0.0.1:0")

	a := dialTCP(t, l)
	a.join("alice")
	require.Eventually(func() bool { return l.NumConns() == 1 }, 10*time.Second, 10*time.Millisecond)

	l.Halt()
	a.requireClosed()
	require.Equal(0, l.NumConns())
}

func TestUnsupportedScheme(t *testing.T) {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	g := &testGlue{cfg: &config.Config{Debug: &config.Debug{}}, logBackend: logBackend}

	_, err = New(g, 0, "udp://127.0.0.1:0")
	require.Error(t, err)
}

func TestWebSocketPairing(t *testing.T) {
	require := require.New(t)
	_, wl := newTestListener(t, "ws://127.0.0.1:0")

	u := "ws://" + wl.Addr().String() + constants.WebSocketPath
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(err)
	a := newTestClient(t, &wsConn{conn: ws})

	ws, _, err = websocket.DefaultDialer.Dial(u, nil)
	require.NoError(err)
	b := newTestClient(t, &wsConn{conn: ws})

	pairAndChat(t, a, b)
}

func TestQuicPairing(t *testing.T) {
	require := require.New(t)
	_, ql := newTestListener(t, "quic://127.0.0.1:0")

	dial := func() *testClient {
		tlsConf := &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{http3.NextProtoH3},
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		conn, err := quic.DialAddr(ctx, ql.Addr().String(), tlsConf, nil)
		require.NoError(err)
		stream, err := conn.OpenStreamSync(ctx)
		require.NoError(err)
		return newTestClient(t, &quicConn{Stream: stream, conn: conn})
	}
	pairAndChat(t, dial(), dial())
}
