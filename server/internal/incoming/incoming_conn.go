// incoming_conn.go - Rendezvous server incoming connection handler.
// Copyright (C) 2017  Yawning Angel.
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
	"bytes"
	"container/list"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"gopkg.in/eapache/channels.v1"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/rendezvous/server/internal/instrument"
	"github.com/katzenpost/rendezvous/server/internal/protocol"
	"github.com/katzenpost/rendezvous/server/internal/rendezvous"
)

var incomingConnID uint64

type incomingConn struct {
	l   *listener
	log *logging.Logger

	c  net.Conn
	e  *list.Element
	s  *rendezvous.Session
	id uint64

	outCh        *channels.InfiniteChannel
	writerDoneCh chan struct{}
}

// Send queues line for transmission.  It never blocks on the peer.
func (c *incomingConn) Send(line []byte) {
	c.outCh.In() <- line
}

// sessionAddress is the Registry key for a connection.  Distinct transports
// may share a host:port pair, so anything but TCP is qualified with the
// network name.
func sessionAddress(conn net.Conn) string {
	addr := conn.RemoteAddr()
	switch addr.Network() {
	case "tcp", "tcp4", "tcp6":
		return addr.String()
	default:
		return addr.Network() + "://" + addr.String()
	}
}

func (c *incomingConn) writer() {
	defer close(c.writerDoneCh)

	for v := range c.outCh.Out() {
		if _, err := c.c.Write(v.([]byte)); err != nil {
			c.log.Debugf("Failed to send line: %v", err)

			// Keep draining so that Send never wedges.
			for range c.outCh.Out() {
			}
			return
		}
	}
}

func (c *incomingConn) worker() {
	rz := c.l.glue.Rendezvous()

	instrument.ConnectionAccepted()
	go c.writer()
	defer func() {
		c.log.Debugf("Closing.")
		c.c.Close()
		c.outCh.Close()
		<-c.writerDoneCh
		c.l.onClosedConn(c) // Remove from the connection list.
		instrument.ConnectionClosed()
	}()

	addr := sessionAddress(c.c)
	c.s = rz.NewSession(addr, c)
	if err := rz.OnAccept(c.s); err != nil {
		c.log.Errorf("Failed to register %v: %v", addr, err)
		return
	}
	// Nothing is sent to the Session once this returns, so outCh may be
	// closed after it.
	defer rz.OnClose(c.s)

	// Start reading from the peer.
	lineCh := make(chan []byte)
	lineCloseCh := make(chan interface{})
	defer close(lineCloseCh)
	go func() {
		defer close(lineCh)
		scanner := bufio.NewScanner(c.c)
		scanner.Buffer(make([]byte, 0, 4096), c.l.glue.Config().Debug.MaxLineLength)
		for scanner.Scan() {
			line := bytes.Clone(scanner.Bytes())
			select {
			case lineCh <- line:
			case <-lineCloseCh:
				// c.worker() is returning for some reason, give up on
				// trying to write the line, and just return.
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.log.Debugf("Failed to receive line: %v", err)
		}
	}()

	// Process incoming lines.
	for {
		var line []byte
		var ok bool

		select {
		case <-c.l.closeAllCh:
			// Server is getting shutdown, all connections are being closed.
			return
		case line, ok = <-lineCh:
			if !ok {
				return
			}
		}

		c.log.Debugf("RCV> %s", line)
		env, err := protocol.Decode(line)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrEmptyLine):
			c.log.Debugf("Received an empty line.")
			return
		default:
			c.log.Infof("Dropping line: %v", err)
			instrument.DecodeFailure()
			continue
		}

		if err = rz.OnMessage(c.s, env); err != nil {
			c.log.Debugf("Failed to dispatch message: %v", err)
			return
		}
	}

	// NOTREACHED
}

func newIncomingConn(l *listener, conn net.Conn) *incomingConn {
	c := &incomingConn{
		l:            l,
		c:            conn,
		id:           atomic.AddUint64(&incomingConnID, 1),
		outCh:        channels.NewInfiniteChannel(),
		writerDoneCh: make(chan struct{}),
	}
	c.log = l.glue.LogBackend().GetLogger(fmt.Sprintf("incoming:%d", c.id))
	c.log.Debugf("New incoming connection: %v", conn.RemoteAddr())
	return c
}
