// server.go - Rendezvous server.
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

// Package server provides the anonymous chat rendezvous server.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/rendezvous/core/log"
	"github.com/katzenpost/rendezvous/core/thwack"
	"github.com/katzenpost/rendezvous/server/config"
	"github.com/katzenpost/rendezvous/server/internal/glue"
	"github.com/katzenpost/rendezvous/server/internal/incoming"
	"github.com/katzenpost/rendezvous/server/internal/instrument"
	"github.com/katzenpost/rendezvous/server/internal/profiling"
	"github.com/katzenpost/rendezvous/server/internal/rendezvous"
)

// ErrShutdownRequested is the error passed to the fatal error handler when
// the management interface asks the server to stop.
var ErrShutdownRequested = errors.New("server: user requested shutdown via mgmt interface")

// Server is a rendezvous server instance.
type Server struct {
	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	rendezvous *rendezvous.Rendezvous
	listeners  []glue.Listener
	management *thwack.Server

	stopMetrics   func()
	stopProfiling func()

	fatalErrCh chan error
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

type serverGlue struct {
	s *Server
}

func (g *serverGlue) Config() *config.Config {
	return g.s.cfg
}

func (g *serverGlue) LogBackend() *log.Backend {
	return g.s.logBackend
}

func (g *serverGlue) Rendezvous() glue.Rendezvous {
	return g.s.rendezvous
}

func (g *serverGlue) Listeners() []glue.Listener {
	return g.s.listeners
}

func (s *Server) initDataDir() error {
	const dirMode = os.ModeDir | 0700
	d := s.cfg.Server.DataDir
	if d == "" {
		// Nothing is persisted, the DataDir only hosts the log file and
		// the management socket.
		return nil
	}

	// Initialize the data directory, by ensuring that it exists (or can be
	// created), and that it has the appropriate permissions.
	if fi, err := os.Lstat(d); err != nil {
		// Directory doesn't exist, create one.
		if !os.IsNotExist(err) {
			return fmt.Errorf("server: failed to stat() DataDir: %v", err)
		}
		if err = os.Mkdir(d, dirMode); err != nil {
			return fmt.Errorf("server: failed to create DataDir: %v", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("server: DataDir '%v' is not a directory", d)
		}
		if fi.Mode() != dirMode {
			return fmt.Errorf("server: DataDir '%v' has invalid permissions '%v'", d, fi.Mode())
		}
	}

	return nil
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && p != "" && !filepath.IsAbs(p) {
		p = filepath.Join(s.cfg.Server.DataDir, p)
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("server")
	}
	return err
}

func (s *Server) initManagement() {
	mgmtCfg := &thwack.Config{
		Net:         "unix",
		Addr:        s.cfg.Management.Path,
		ServiceName: s.cfg.Server.Identifier + " Rendezvous Management Interface",
		LogModule:   "mgmt",
		NewLoggerFn: s.logBackend.GetLogger,
	}
	s.management = thwack.New(mgmtCfg)

	const shutdownCmd = "SHUTDOWN"
	s.management.RegisterCommand(shutdownCmd, func(c *thwack.Conn, l string) error {
		_ = c.WriteReply(thwack.StatusOk)
		s.fatal(ErrShutdownRequested)
		return nil
	})

	const statusCmd = "STATUS"
	s.management.RegisterCommand(statusCmd, func(c *thwack.Conn, l string) error {
		lines, err := s.statusLines()
		if err != nil {
			c.Log().Errorf("STATUS failed: %v", err)
			return c.WriteReply(thwack.StatusTransactionFailed)
		}
		return c.WriteData(thwack.StatusOk, lines)
	})
}

func (s *Server) statusLines() ([]string, error) {
	counts, err := s.rendezvous.Status()
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(rendezvous.States)+len(s.listeners))
	for _, st := range rendezvous.States {
		lines = append(lines, fmt.Sprintf("%v %d", st, counts[st]))
	}
	for _, l := range s.listeners {
		lines = append(lines, fmt.Sprintf("LISTENER %v %d", l.Addr(), l.NumConns()))
	}
	return lines, nil
}

// Status returns the number of connected clients in each state.  It fails
// with rendezvous.ErrHalted once the server is shut down.
func (s *Server) Status() (map[rendezvous.State]int, error) {
	if s.rendezvous == nil {
		return nil, rendezvous.ErrHalted
	}
	return s.rendezvous.Status()
}

// Addresses returns the bound listener addresses, in configuration order.
func (s *Server) Addresses() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// ManagementAddr returns the management interface address, or nil if it is
// disabled.
func (s *Server) ManagementAddr() net.Addr {
	if s.management == nil {
		return nil
	}
	return s.management.Addr()
}

// RotateLog rotates the log file if logging to a file is enabled.
func (s *Server) RotateLog() {
	if err := s.logBackend.Rotate(); err != nil {
		s.fatal(fmt.Errorf("server: failed to rotate log file, shutting down server: %v", err))
		return
	}
	s.log.Notice("Log rotated.")
}

// fatal asks the fatal error watcher to shut the server down.  Only the
// first error is acted upon, later ones are dropped.
func (s *Server) fatal(err error) {
	select {
	case s.fatalErrCh <- err:
	default:
		s.log.Debugf("Ignoring fatal error, already shutting down: %v", err)
	}
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

func (s *Server) halt() {
	// The listeners go before the rendezvous event loop, as closing a
	// connection needs the loop to unregister the client and notify its
	// partner.

	s.log.Noticef("Starting graceful shutdown.")

	// Stop the management interface.
	if s.management != nil {
		s.management.Halt()
		s.management = nil
	}

	// Stop the listener(s), close all incoming connections.
	for i, l := range s.listeners {
		if l != nil {
			l.Halt() // Closes all connections.
			s.listeners[i] = nil
		}
	}
	s.listeners = nil

	// The event loop is kept around once halted, so that Status keeps
	// answering ErrHalted.
	if s.rendezvous != nil {
		s.rendezvous.Halt()
	}

	if s.stopMetrics != nil {
		s.stopMetrics()
		s.stopMetrics = nil
	}

	if s.stopProfiling != nil {
		s.stopProfiling()
		s.stopProfiling = nil
	}

	s.log.Noticef("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specified
// configuration.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		fatalErrCh: make(chan error, 1),
		haltedCh:   make(chan interface{}),
	}

	// Do the early initialization and bring up logging.
	if err := s.initDataDir(); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}

	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Unsafe Debug logging is enabled, client traffic will be logged.")
	}
	s.log.Noticef("Server identifier is: '%v'", s.cfg.Server.Identifier)

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		// Something failed in bringing the server up, clean up the
		// partially constructed instance.
		if !isOk {
			s.Shutdown()
		}
	}()

	// Start the fatal error watcher.
	go func() {
		select {
		case err := <-s.fatalErrCh:
			s.log.Warningf("Shutting down due to error: %v", err)
			s.Shutdown()
		case <-s.haltedCh:
			// Graceful termination.
		}
	}()

	var err error
	if s.stopProfiling, err = profiling.Start(s.cfg.Profiling, s.logBackend.GetLogger("profiling")); err != nil {
		s.log.Errorf("Failed to start profiling: %v", err)
		return nil, err
	}

	if s.cfg.Server.MetricsAddress != "" {
		s.stopMetrics, err = instrument.StartPrometheusListener(s.cfg.Server.MetricsAddress, s.logBackend.GetGoLogger("metrics", "WARNING"))
		if err != nil {
			s.log.Errorf("Failed to start metrics listener: %v", err)
			return nil, err
		}
		s.log.Noticef("Serving metrics on: %v", s.cfg.Server.MetricsAddress)
	} else {
		instrument.Init()
	}

	// Initialize the management interface if enabled.
	if s.cfg.Management.Enable {
		s.initManagement()
	}

	s.rendezvous = rendezvous.New(s.logBackend, s.cfg.Debug.EventQueueLength)

	// Bring the listener(s) online.
	goo := &serverGlue{s}
	s.listeners = make([]glue.Listener, 0, len(s.cfg.Server.Addresses))
	for i, addr := range s.cfg.Server.Addresses {
		l, err := incoming.New(goo, i, addr)
		if err != nil {
			s.log.Errorf("Failed to spawn listener on address: %v (%v).", addr, err)
			return nil, err
		}
		s.listeners = append(s.listeners, l)
	}

	// Start listening on the management interface if enabled, now that
	// every command has been registered.
	if s.management != nil {
		if err := s.management.Start(); err != nil {
			s.log.Errorf("Failed to start management interface: %v", err)
			return nil, err
		}
	}

	isOk = true
	return s, nil
}
