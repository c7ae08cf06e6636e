// constants.go - Rendezvous server internal constants.
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

// Package constants defines internal constants for the rendezvous server.
package constants

import "time"

const (
	// KeepAliveInterval is the TCP/IP KeepAlive interval.
	KeepAliveInterval = 3 * time.Minute

	// WebSocketPath is the HTTP path the WebSocket listener upgrades on.
	WebSocketPath = "/rendezvous"

	// HandshakeTimeout bounds the transport handshake: the WebSocket
	// upgrade request, or the wait for a QUIC client's first stream.
	HandshakeTimeout = 10 * time.Second
)
