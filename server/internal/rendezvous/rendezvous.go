// rendezvous.go - Rendezvous event loop.
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

// Package rendezvous implements the client state machine, the registry of
// live clients and the partner matcher.  Every mutation of that state
// happens on a single event loop go routine, so that pairing two clients is
// atomic with respect to every other client's messages.
package rendezvous

import (
	"errors"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/rendezvous/core/log"
	"github.com/katzenpost/rendezvous/core/worker"
	"github.com/katzenpost/rendezvous/server/internal/instrument"
	"github.com/katzenpost/rendezvous/server/internal/protocol"
)

// ErrHalted is returned when the event loop is no longer running.
var ErrHalted = errors.New("rendezvous: halted")

type acceptEvent struct {
	s     *Session
	errCh chan error
}

type messageEvent struct {
	s   *Session
	env protocol.Envelope
}

type closeEvent struct {
	s      *Session
	doneCh chan struct{}
}

type statusOp struct {
	respCh chan map[State]int
}

// Rendezvous owns the Registry and the Matcher, and serializes every client
// event through its event loop.
type Rendezvous struct {
	worker.Worker

	logBackend *log.Backend
	log        *logging.Logger

	registry *Registry
	matcher  *Matcher

	eventCh chan interface{}
}

// New creates and starts a Rendezvous.  queueLen is the capacity of the
// event queue shared by all connections.
func New(logBackend *log.Backend, queueLen int) *Rendezvous {
	r := &Rendezvous{
		logBackend: logBackend,
		log:        logBackend.GetLogger("rendezvous"),
		registry:   NewRegistry(),
		eventCh:    make(chan interface{}, queueLen),
	}
	r.matcher = NewMatcher(r.registry, logBackend.GetLogger("matcher"))
	r.Go(r.worker)
	return r
}

// NewSession allocates a Session for a client connected from addr.  The
// Session is not registered until OnAccept.  Safe to call from any go
// routine.
func (r *Rendezvous) NewSession(addr string, out Sender) *Session {
	return &Session{
		addr:     addr,
		out:      out,
		log:      r.log,
		registry: r.registry,
		matcher:  r.matcher,
		state:    StateInitial,
	}
}

// OnAccept registers s, and blocks until it is registered.
func (r *Rendezvous) OnAccept(s *Session) error {
	ev := &acceptEvent{s: s, errCh: make(chan error, 1)}
	if err := r.post(ev); err != nil {
		return err
	}
	select {
	case err := <-ev.errCh:
		return err
	case <-r.HaltCh():
		return ErrHalted
	}
}

// OnMessage queues a decoded message from s for dispatch.  Messages from a
// given Session are dispatched in the order they are queued.
func (r *Rendezvous) OnMessage(s *Session, env protocol.Envelope) error {
	return r.post(&messageEvent{s: s, env: env})
}

// OnClose tears s down, and blocks until no further line will be sent to
// it.
func (r *Rendezvous) OnClose(s *Session) {
	ev := &closeEvent{s: s, doneCh: make(chan struct{})}
	if err := r.post(ev); err != nil {
		return
	}
	select {
	case <-ev.doneCh:
	case <-r.HaltCh():
	}
}

// Status returns the number of registered clients in each State.
func (r *Rendezvous) Status() (map[State]int, error) {
	op := &statusOp{respCh: make(chan map[State]int, 1)}
	if err := r.post(op); err != nil {
		return nil, err
	}
	select {
	case counts := <-op.respCh:
		return counts, nil
	case <-r.HaltCh():
		return nil, ErrHalted
	}
}

func (r *Rendezvous) post(ev interface{}) error {
	select {
	case <-r.HaltCh():
		return ErrHalted
	default:
	}
	select {
	case r.eventCh <- ev:
		return nil
	case <-r.HaltCh():
		return ErrHalted
	}
}

func (r *Rendezvous) worker() {
	defer r.log.Debugf("Halted.")
	for {
		var ev interface{}
		select {
		case <-r.HaltCh():
			return
		case ev = <-r.eventCh:
		}

		switch e := ev.(type) {
		case *acceptEvent:
			err := r.registry.Add(e.s)
			if err == nil {
				r.log.Debugf("Registered %v, %d clients connected", e.s.addr, r.registry.Len())
			}
			e.errCh <- err
		case *messageEvent:
			e.s.OnMessage(e.env)
		case *closeEvent:
			e.s.onClosed()
			r.log.Debugf("Unregistered %v, %d clients connected", e.s.addr, r.registry.Len())
			close(e.doneCh)
		case *statusOp:
			e.respCh <- r.registry.CountByState()
			continue
		default:
			r.log.Errorf("BUG: unknown event: %T", ev)
			continue
		}
		r.updateGauges()
	}
}

func (r *Rendezvous) updateGauges() {
	for _, st := range States {
		instrument.Clients(st.String(), r.registry.counts[st])
	}
}
