// listener.go - Rendezvous server listener.
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

// Package incoming implements the incoming connection support.
package incoming

import (
	"container/list"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/rendezvous/core/worker"
	"github.com/katzenpost/rendezvous/server/config"
	"github.com/katzenpost/rendezvous/server/internal/glue"
)

type listener struct {
	sync.Mutex
	worker.Worker

	glue glue.Glue
	log  *logging.Logger

	l     net.Listener
	conns *list.List

	closeAllCh   chan interface{}
	closeAllWg   sync.WaitGroup
	closeAllOnce sync.Once
}

func (l *listener) Halt() {
	// Close the listener, wait for worker() to return.
	l.l.Close()
	l.Worker.Halt()

	// Close all connections belonging to the listener.
	l.closeAllOnce.Do(func() { close(l.closeAllCh) })
	l.closeAllWg.Wait()
}

func (l *listener) Addr() net.Addr {
	return l.l.Addr()
}

func (l *listener) NumConns() int {
	l.Lock()
	defer l.Unlock()
	return l.conns.Len()
}

func (l *listener) worker() {
	addr := l.l.Addr()
	l.log.Noticef("Listening on: %v", addr)
	defer func() {
		l.log.Noticef("Stopping listening on: %v", addr)
		l.l.Close() // Usually redundant, but harmless.
	}()
	for {
		conn, err := l.l.Accept()
		if err != nil {
			select {
			case <-l.HaltCh():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if e, ok := err.(net.Error); ok && e.Timeout() {
				continue
			}
			l.log.Errorf("accept failure: %v", err)
			return
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(time.Duration(l.glue.Config().Debug.KeepAliveInterval) * time.Millisecond)
		}

		l.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())

		l.onNewConn(conn)
	}

	// NOTREACHED
}

func (l *listener) onNewConn(conn net.Conn) {
	c := newIncomingConn(l, conn)

	l.closeAllWg.Add(1)
	l.Lock()
	defer func() {
		l.Unlock()
		go c.worker()
	}()
	c.e = l.conns.PushFront(c)
}

func (l *listener) onClosedConn(c *incomingConn) {
	l.Lock()
	defer func() {
		l.Unlock()
		l.closeAllWg.Done()
	}()
	l.conns.Remove(c.e)
}

// New creates a new listener bound to addr, a URL whose scheme selects the
// transport.
func New(g glue.Glue, id int, addr string) (glue.Listener, error) {
	l := &listener{
		glue:       g,
		log:        g.LogBackend().GetLogger(fmt.Sprintf("listener:%d", id)),
		conns:      list.New(),
		closeAllCh: make(chan interface{}),
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("incoming: invalid listener address '%v': %v", addr, err)
	}
	switch u.Scheme {
	case config.SchemeTCP, config.SchemeTCP4, config.SchemeTCP6:
		l.l, err = net.Listen(u.Scheme, u.Host)
	case config.SchemeQUIC:
		l.l, err = newQuicListener(u.Host, l.log)
	case config.SchemeWebSocket:
		l.l, err = newWebSocketListener(u.Host, g.Config().Debug.MaxLineLength, g.LogBackend().GetLogWriter("listener:ws", "WARNING"))
	default:
		return nil, fmt.Errorf("incoming: unsupported listener scheme '%v'", addr)
	}
	if err != nil {
		l.log.Errorf("Failed to start listener '%v': %v", addr, err)
		return nil, err
	}

	l.Go(l.worker)
	return l, nil
}
