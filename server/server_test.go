// server_test.go - Rendezvous server tests.
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

package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/rendezvous/server/config"
	"github.com/katzenpost/rendezvous/server/internal/protocol"
	"github.com/katzenpost/rendezvous/server/internal/rendezvous"
)

func newTestServer(t *testing.T, enableManagement bool) *Server {
	// The DataDir must not be accessible to anyone else, regardless of
	// the umask the tests run under.
	dataDir := t.TempDir()
	require.NoError(t, os.Chmod(dataDir, 0700))

	cfg, err := config.Load([]byte(fmt.Sprintf(`
[Server]
Identifier = "rendezvous.test"
Addresses = [ "tcp://127.0.0.1:0" ]
DataDir = %q

[Logging]
Disable = true

[Management]
Enable = %v
`, dataDir, enableManagement)))
	require.NoError(t, err)

	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, s *Server) *client {
	conn, err := net.Dial("tcp", s.Addresses()[0].String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(line string) {
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *client) join(id string) {
	c.send(`{"type":"JOIN","crypto_params":{"identityString":"` + id +
		`","publicKey":"pk","preKeyList":["a"],"signedPreKeyList":["b"]}}`)
}

func (c *client) recvType() string {
	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	line, err := c.r.ReadBytes('\n')
	require.NoError(c.t, err)
	env, err := protocol.Decode(line)
	require.NoError(c.t, err)
	typ, err := env.Type()
	require.NoError(c.t, err)
	return typ
}

func requireHalted(t *testing.T, s *Server) {
	haltedCh := make(chan struct{})
	go func() {
		s.Wait()
		close(haltedCh)
	}()
	select {
	case <-haltedCh:
	case <-time.After(10 * time.Second):
		t.Fatal("server did not halt")
	}
}

func waitForState(t *testing.T, s *Server, st rendezvous.State, n int) {
	require.Eventually(t, func() bool {
		counts, err := s.Status()
		return err == nil && counts[st] == n
	}, 10*time.Second, 10*time.Millisecond)
}

func TestServerSession(t *testing.T) {
	require := require.New(t)
	s := newTestServer(t, false)
	require.Nil(s.ManagementAddr())

	a, b := dial(t, s), dial(t, s)

	// SEARCH before JOIN and garbage are both ignored.
	a.send(`{"type":"SEARCH"}`)
	a.send(`this is not json`)
	a.join("alice")
	a.send(`{"type":"SEARCH"}`)
	waitForState(t, s, rendezvous.StateSearching, 1)

	b.join("bob")
	b.send(`{"type":"SEARCH"}`)
	require.Equal(protocol.TypePartnerFound, a.recvType())
	require.Equal(protocol.TypePartnerFound, b.recvType())
	waitForState(t, s, rendezvous.StatePartnerConnected, 2)

	b.send(`{"type":"CHAT","message":"hi"}`)
	require.Equal(protocol.TypeChat, a.recvType())

	b.conn.Close()
	require.Equal(protocol.TypePartnerDisconnected, a.recvType())
	waitForState(t, s, rendezvous.StatePartnerDisconnected, 1)
}

func TestServerManagement(t *testing.T) {
	require := require.New(t)
	s := newTestServer(t, true)

	a := dial(t, s)
	a.join("alice")
	waitForState(t, s, rendezvous.StateJoined, 1)

	mgmt, err := textproto.Dial("unix", s.ManagementAddr().String())
	require.NoError(err)
	defer mgmt.Close()
	_, _, err = mgmt.ReadCodeLine(220)
	require.NoError(err)

	require.NoError(mgmt.PrintfLine("STATUS"))
	_, msg, err := mgmt.ReadResponse(250)
	require.NoError(err)
	require.Contains(msg, "STATE_JOINED 1")
	require.Contains(msg, "STATE_SEARCHING 0")
	require.Contains(msg, "LISTENER "+s.Addresses()[0].String()+" 1")

	require.NoError(mgmt.PrintfLine("SHUTDOWN"))
	_, _, err = mgmt.ReadCodeLine(250)
	require.NoError(err)

	requireHalted(t, s)

	// The clients were disconnected.
	a.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, err = a.r.ReadByte()
	require.Error(err)
}

func TestServerRepeatedShutdown(t *testing.T) {
	require := require.New(t)
	s := newTestServer(t, true)

	conn, err := net.Dial("unix", s.ManagementAddr().String())
	require.NoError(err)
	defer conn.Close()
	mgmt := textproto.NewConn(conn)
	_, _, err = mgmt.ReadCodeLine(220)
	require.NoError(err)

	// Both commands are in flight before the first one is acted upon.
	_, err = io.WriteString(conn, "SHUTDOWN\r\nSHUTDOWN\r\n")
	require.NoError(err)
	_, _, err = mgmt.ReadCodeLine(250)
	require.NoError(err)

	requireHalted(t, s)

	// Late fatal errors and queries are harmless once halted.
	s.fatal(errors.New("late failure"))
	s.RotateLog()
	s.Shutdown()
	_, err = s.Status()
	require.ErrorIs(err, rendezvous.ErrHalted)
}
