// thwack.go - Trivial text based management protocol.
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

// Package thwack provides a trivial text based management protocol, in the
// style of SMTP: a greeting banner, one command per line, and numeric status
// replies.
package thwack

import (
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/op/go-logging.v1"
)

const cmdQuit = "QUIT"

// StatusCode is a thwack status code.
type StatusCode int

const (
	// StatusServiceReady is always sent on a new connection to signify that
	// the management interface is ready.
	StatusServiceReady StatusCode = 220

	// StatusOk signals successful completion of a command.
	StatusOk StatusCode = 250

	// StatusUnknownCommand is returned when a command is unknown.
	StatusUnknownCommand StatusCode = 500

	// StatusSyntaxError is returned when the arguments of a command are
	// invalid.
	StatusSyntaxError StatusCode = 501

	// StatusTransactionFailed is returned when the command has failed.
	StatusTransactionFailed StatusCode = 554
)

var statusToString = map[StatusCode]string{
	StatusServiceReady:      "Service ready",
	StatusOk:                "Requested action ok, completed",
	StatusUnknownCommand:    "Syntax error, command unrecognised",
	StatusSyntaxError:       "Syntax error in parameters or arguments",
	StatusTransactionFailed: "Transaction failed",
}

var errPeerQuit = errors.New("thwack: peer requested disconnection")

// CommandHandlerFn is a command handler hook function.  Each handler is
// responsible for sending a reply, and MUST NOT return an error unless the
// connection is to be closed immediately.
type CommandHandlerFn func(c *Conn, args string) error

// Config is a thwack Server configuration.
type Config struct {
	// Net and Addr specify the network and address of the server instance.
	Net, Addr string

	// ServiceName is displayed in the greeting banner.
	ServiceName string

	// LogModule is the module for the Server's Logger.
	LogModule string

	// NewLoggerFn constructs per-connection Loggers.
	NewLoggerFn func(string) *logging.Logger
}

// Server is a thwack server instance.
type Server struct {
	sync.WaitGroup

	cfg      *Config
	l        net.Listener
	log      *logging.Logger
	handlers map[string]CommandHandlerFn

	closeAllCh chan struct{}
	connID     uint64
}

// Start binds the listener and starts accepting connections.
func (s *Server) Start() error {
	var err error
	s.l, err = net.Listen(s.cfg.Net, s.cfg.Addr)
	if err != nil {
		return err
	}
	s.log.Noticef("Listening on: %v", s.l.Addr())

	s.Add(1)
	go s.acceptWorker()
	return nil
}

// Addr returns the bound address, or nil if the Server is not started.
func (s *Server) Addr() net.Addr {
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

func (s *Server) acceptWorker() {
	defer func() {
		s.l.Close()
		s.Done()
	}()
	for {
		conn, err := s.l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Errorf("Critical accept failure: %v", err)
			return
		}
		s.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())

		c := newConn(s, conn)
		s.Add(1)
		go c.worker()
	}
}

// RegisterCommand sets the handler function for the specified command.
// This MUST NOT be called after Start.
func (s *Server) RegisterCommand(cmd string, fn CommandHandlerFn) {
	s.handlers[strings.ToUpper(cmd)] = fn
}

func (s *Server) onCommand(c *Conn, l string) error {
	l = textproto.TrimString(l)
	cmd, args, _ := strings.Cut(l, " ")
	cmd = strings.ToUpper(cmd)

	fn, ok := s.handlers[cmd]
	if !ok {
		c.log.Debugf("Unknown command: %v", cmd)
		return c.WriteReply(StatusUnknownCommand)
	}
	return fn(c, strings.TrimSpace(args))
}

// Halt closes the listener and every connection, and waits for the
// connection workers to return.
func (s *Server) Halt() {
	if s.l != nil {
		s.l.Close()
		close(s.closeAllCh)
	}
	s.Wait()
}

func cmdQuitImpl(c *Conn, _ string) error {
	// Disconnecting anyway.
	_ = c.WriteReply(StatusOk)
	return errPeerQuit
}

// New constructs a new Server, but does not start the listener.
func New(cfg *Config) *Server {
	s := &Server{
		cfg:        cfg,
		log:        cfg.NewLoggerFn(cfg.LogModule),
		handlers:   make(map[string]CommandHandlerFn),
		closeAllCh: make(chan struct{}),
	}
	s.RegisterCommand(cmdQuit, cmdQuitImpl)
	return s
}

// Conn is a thwack connection instance.
type Conn struct {
	s   *Server
	c   *textproto.Conn
	log *logging.Logger
}

// Log returns the per-connection logging.Logger.
func (c *Conn) Log() *logging.Logger {
	return c.log
}

// WriteReply sends a StatusCode and its human readable reason to the peer.
func (c *Conn) WriteReply(status StatusCode) error {
	reason, ok := statusToString[status]
	if !ok {
		return fmt.Errorf("BUG: thwack: Unknown status code: %v", status)
	}
	return c.c.PrintfLine("%v %v", status, reason)
}

// WriteData sends each line as a "status-" continuation line, followed by
// the final status line.
func (c *Conn) WriteData(status StatusCode, lines []string) error {
	for _, l := range lines {
		if err := c.c.PrintfLine("%v-%v", status, l); err != nil {
			return err
		}
	}
	return c.WriteReply(status)
}

func (c *Conn) worker() {
	closedCh := make(chan struct{})
	defer func() {
		c.log.Debugf("Closing")
		c.c.Close()
		c.s.Done()
	}()

	msg := statusToString[StatusServiceReady]
	if c.s.cfg.ServiceName != "" {
		msg = c.s.cfg.ServiceName + " " + msg
	}
	if err := c.c.PrintfLine("%v %v", StatusServiceReady, msg); err != nil {
		c.log.Debugf("Failed to send banner: %v", err)
		return
	}

	go func() {
		defer close(closedCh)
		for {
			l, err := c.c.ReadLine()
			if err != nil {
				c.log.Debugf("Failed to receive command: %v", err)
				return
			}
			c.log.Debugf("C->S: '%v'", l)
			if err = c.s.onCommand(c, l); err != nil {
				c.log.Debugf("Failed to process command: %v", err)
				return
			}
		}
	}()

	select {
	case <-c.s.closeAllCh:
		c.c.Close()
		<-closedCh
	case <-closedCh:
	}
}

func newConn(s *Server, conn net.Conn) *Conn {
	id := atomic.AddUint64(&s.connID, 1)
	return &Conn{
		s:   s,
		c:   textproto.NewConn(conn),
		log: s.cfg.NewLoggerFn(fmt.Sprintf("%s:%d", s.cfg.LogModule, id)),
	}
}
