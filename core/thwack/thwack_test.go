// thwack_test.go - Management protocol tests.
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

package thwack

import (
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/rendezvous/core/log"
)

func TestServer(t *testing.T) {
	require := require.New(t)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(err)

	s := New(&Config{
		Net:         "tcp",
		Addr:        "127.0.0.1:0",
		ServiceName: "test",
		LogModule:   "mgmt",
		NewLoggerFn: logBackend.GetLogger,
	})
	argsCh := make(chan string, 1)
	s.RegisterCommand("echo", func(c *Conn, args string) error {
		argsCh <- args
		return c.WriteData(StatusOk, []string{args})
	})
	require.NoError(s.Start())
	defer s.Halt()

	conn, err := textproto.Dial("tcp", s.Addr().String())
	require.NoError(err)
	defer conn.Close()

	_, msg, err := conn.ReadResponse(int(StatusServiceReady))
	require.NoError(err)
	require.Contains(msg, "test Service ready")

	require.NoError(conn.PrintfLine("ECHO hello world"))
	_, msg, err = conn.ReadResponse(int(StatusOk))
	require.NoError(err)
	require.Contains(msg, "hello world")
	require.Equal("hello world", <-argsCh)

	require.NoError(conn.PrintfLine("BOGUS"))
	_, _, err = conn.ReadResponse(int(StatusOk))
	require.Error(err)

	require.NoError(conn.PrintfLine("QUIT"))
	_, _, err = conn.ReadResponse(int(StatusOk))
	require.NoError(err)
}
