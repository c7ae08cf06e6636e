// websocket.go - WebSocket listener.
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
	"bytes"
	"errors"
	"io"
	goLog "log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/katzenpost/rendezvous/server/internal/constants"
)

type wsAddr struct {
	net.Addr
}

func (a wsAddr) Network() string {
	return "ws"
}

// wsConn presents a WebSocket as a line stream.  Every inbound message is
// one line, newline terminated if the client did not do so, and every
// outbound line is sent as one text message.
type wsConn struct {
	conn *websocket.Conn

	r       io.Reader
	last    byte
	pending []byte
}

func (c *wsConn) Read(b []byte) (int, error) {
	for {
		if len(c.pending) > 0 {
			n := copy(b, c.pending)
			c.pending = c.pending[n:]
			return n, nil
		}
		if c.r == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.r, c.last = r, 0
		}

		n, err := c.r.Read(b)
		if n > 0 {
			c.last = b[n-1]
		}
		if errors.Is(err, io.EOF) {
			c.r = nil
			if c.last != '\n' {
				c.pending = []byte{'\n'}
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(b []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(b, []byte{'\n'})); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) LocalAddr() net.Addr {
	return wsAddr{c.conn.LocalAddr()}
}

func (c *wsConn) RemoteAddr() net.Addr {
	return wsAddr{c.conn.RemoteAddr()}
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// wsListener implements net.Listener over an HTTP server that upgrades
// requests for constants.WebSocketPath.
type wsListener struct {
	l   net.Listener
	srv *http.Server

	upgrader      websocket.Upgrader
	maxLineLength int

	acceptCh  chan net.Conn
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		return
	}
	// The extra byte accounts for a client supplied newline.
	conn.SetReadLimit(int64(l.maxLineLength) + 1)

	select {
	case l.acceptCh <- &wsConn{conn: conn}:
	case <-l.closeCh:
		conn.Close()
	}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.acceptCh:
		return c, nil
	case <-l.closeCh:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Addr() net.Addr {
	return l.l.Addr()
}

func (l *wsListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closeCh)
		err = l.srv.Close()
	})
	return err
}

func newWebSocketListener(addr string, maxLineLength int, errorLog io.Writer) (*wsListener, error) {
	tl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &wsListener{
		l: tl,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: constants.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			// Anonymous clients from any origin are the point.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		maxLineLength: maxLineLength,
		acceptCh:      make(chan net.Conn),
		closeCh:       make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(constants.WebSocketPath, l.handleUpgrade)
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: constants.HandshakeTimeout,
		ErrorLog:          goLog.New(errorLog, "", 0),
	}
	go l.srv.Serve(tl)

	return l, nil
}
