// glue.go - Rendezvous server internal glue.
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

// Package glue implements the glue structure that ties all the internal
// subpackages together.
package glue

import (
	"net"

	"github.com/katzenpost/rendezvous/core/log"
	"github.com/katzenpost/rendezvous/server/config"
	"github.com/katzenpost/rendezvous/server/internal/protocol"
	"github.com/katzenpost/rendezvous/server/internal/rendezvous"
)

// Glue is the structure that binds the internal components together.
type Glue interface {
	Config() *config.Config
	LogBackend() *log.Backend

	Rendezvous() Rendezvous
	Listeners() []Listener
}

// Rendezvous is the client state machine event loop.
type Rendezvous interface {
	Halt()
	NewSession(string, rendezvous.Sender) *rendezvous.Session
	OnAccept(*rendezvous.Session) error
	OnMessage(*rendezvous.Session, protocol.Envelope) error
	OnClose(*rendezvous.Session)
	Status() (map[rendezvous.State]int, error)
}

// Listener accepts client connections.
type Listener interface {
	Halt()
	Addr() net.Addr
	NumConns() int
}
