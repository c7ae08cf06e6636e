// matcher.go - Partner matching.
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
)

// Matcher pairs searching Sessions.
type Matcher struct {
	registry *Registry
	log      *logging.Logger
}

// NewMatcher returns a Matcher scanning registry.
func NewMatcher(registry *Registry, log *logging.Logger) *Matcher {
	return &Matcher{
		registry: registry,
		log:      log,
	}
}

// SearchForPartner pairs initiator with the first other searching Session
// in registry order, and returns the partner or nil.  An unpaired initiator
// stays searching until a later searcher picks it.
func (m *Matcher) SearchForPartner(initiator *Session) *Session {
	m.log.Debugf("Search initiated by %v, %d clients connected", initiator.addr, m.registry.Len())

	for e := m.registry.sessions.Front(); e != nil; e = e.Next() {
		c := e.Value.(*Session)
		if c.addr == initiator.addr || c.state != StateSearching {
			continue
		}

		m.log.Infof("Paired %v with %v", c.addr, initiator.addr)
		c.OnPartnerFound(initiator)
		initiator.OnPartnerFound(c)
		instrument.PartnersMatched()
		return c
	}

	m.log.Debugf("No partner available for %v", initiator.addr)
	return nil
}
