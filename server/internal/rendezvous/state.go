// state.go - Client session states.
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

import "fmt"

// State is the state of a client Session.
type State int

const (
	// StateInitial is the state of a freshly accepted client.
	StateInitial State = iota

	// StateJoined is entered once the client published its crypto
	// parameters.
	StateJoined

	// StateSearching is entered when the client asks for a partner, and
	// left once one is found.
	StateSearching

	// StatePartnerConnected is the state of a paired client.
	StatePartnerConnected

	// StatePartnerDisconnected is entered when the partner went away.
	StatePartnerDisconnected
)

// States lists every State in order.
var States = []State{
	StateInitial,
	StateJoined,
	StateSearching,
	StatePartnerConnected,
	StatePartnerDisconnected,
}

func (s State) String() string {
	switch s {
	case StateInitial:
		return "STATE_INITIAL"
	case StateJoined:
		return "STATE_JOINED"
	case StateSearching:
		return "STATE_SEARCHING"
	case StatePartnerConnected:
		return "STATE_PARTNER_CONNECTED"
	case StatePartnerDisconnected:
		return "STATE_PARTNER_DISCONNECTED"
	default:
		return fmt.Sprintf("STATE_UNKNOWN(%d)", int(s))
	}
}
