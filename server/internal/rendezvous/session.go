// session.go - Client session state machine.
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

package rendezvous

import (
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/rendezvous/server/internal/instrument"
	"github.com/katzenpost/rendezvous/server/internal/protocol"
)

// Sender queues an encoded line for transmission to a client.  Send MUST
// NOT block.
type Sender interface {
	Send(line []byte)
}

// Session is the protocol state of one connected client.  Except for the
// accessors documented otherwise, all methods must be called from the
// Rendezvous event loop.
type Session struct {
	addr string
	out  Sender
	log  *logging.Logger

	registry *Registry
	matcher  *Matcher

	state        State
	cryptoParams protocol.CryptoParams

	// partner is the registry address of the partner, set exactly while
	// the state is StatePartnerConnected.
	partner string
}

// Address returns the client's remote address.
func (s *Session) Address() string {
	return s.addr
}

// State returns the current State.
func (s *Session) State() State {
	return s.state
}

// CryptoParams returns the crypto parameters published by JOIN, or nil.
func (s *Session) CryptoParams() protocol.CryptoParams {
	return s.cryptoParams
}

// Partner resolves the partner through the Registry.  It returns nil unless
// the Session is paired with a live Session that is paired back.
func (s *Session) Partner() *Session {
	if s.state != StatePartnerConnected {
		return nil
	}
	p := s.registry.Get(s.partner)
	if p == nil || p.state != StatePartnerConnected || p.partner != s.addr {
		return nil
	}
	return p
}

func (s *Session) String() string {
	return "Session(" + s.addr + ", state=" + s.state.String() + ")"
}

// OnMessage dispatches a decoded message.
func (s *Session) OnMessage(env protocol.Envelope) {
	typ, err := env.Type()
	if err != nil {
		s.log.Warningf("%v: %v", s.addr, err)
		instrument.ProtocolViolation("")
		return
	}
	switch typ {
	case protocol.TypeJoin:
		instrument.Incoming(typ)
		s.onJoin(env)
	case protocol.TypeSearch:
		instrument.Incoming(typ)
		s.onSearch()
	case protocol.TypeChat:
		instrument.Incoming(typ)
		s.onChat(env)
	default:
		s.log.Warningf("%v: ignoring message of unknown type '%v'", s.addr, typ)
		instrument.ProtocolViolation(typ)
	}
}

func (s *Session) onJoin(env protocol.Envelope) {
	if s.state != StateInitial {
		s.log.Errorf("%v: already joined", s.addr)
		instrument.ProtocolViolation(protocol.TypeJoin)
		return
	}
	params, err := env.CryptoParams()
	if err != nil {
		s.log.Errorf("%v: %v", s.addr, err)
		instrument.ProtocolViolation(protocol.TypeJoin)
		return
	}

	s.cryptoParams = params
	s.registry.setState(s, StateJoined)
	s.log.Infof("%v: client joined", s.addr)
}

func (s *Session) onSearch() {
	if s.state != StateJoined {
		s.log.Errorf("%v: client not joined (%v)", s.addr, s.state)
		instrument.ProtocolViolation(protocol.TypeSearch)
		return
	}

	s.registry.setState(s, StateSearching)
	s.matcher.SearchForPartner(s)
}

func (s *Session) onChat(env protocol.Envelope) {
	if s.state != StatePartnerConnected {
		return
	}
	p := s.Partner()
	if p == nil {
		s.log.Errorf("BUG: %v: paired without a live partner", s.addr)
		return
	}
	p.send(protocol.TypeChat, env.Payload())
	instrument.ChatForwarded()
}

// OnPartnerFound pairs the Session with other and hands the client its
// partner's crypto parameters.
func (s *Session) OnPartnerFound(other *Session) {
	s.registry.setState(s, StatePartnerConnected)
	s.partner = other.addr
	s.send(protocol.TypePartnerFound, map[string]interface{}{
		protocol.FieldCryptoParams: other.cryptoParams,
	})
}

// OnPartnerDisconnected notifies the client that its partner went away.
func (s *Session) OnPartnerDisconnected() {
	if s.state != StatePartnerConnected {
		return
	}
	s.log.Infof("%v: partner has disconnected", s.addr)
	s.registry.setState(s, StatePartnerDisconnected)
	s.partner = ""
	s.send(protocol.TypePartnerDisconnected, nil)
}

// onClosed tears the Session down after the underlying connection closed.
func (s *Session) onClosed() {
	s.log.Infof("%v: client disconnected", s.addr)
	if p := s.Partner(); p != nil {
		p.OnPartnerDisconnected()
	}
	s.registry.Remove(s)
	s.partner = ""
}

func (s *Session) send(msgType string, payload map[string]interface{}) {
	b, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.log.Errorf("%v: failed to encode %v: %v", s.addr, msgType, err)
		return
	}
	s.log.Debugf("%v: SND> %s", s.addr, b[:len(b)-1])
	s.out.Send(b)
}
