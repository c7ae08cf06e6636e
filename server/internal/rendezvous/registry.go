// registry.go - Live client registry.
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
	"container/list"
	"errors"
)

// ErrDuplicateAddress is returned when registering a Session whose address
// is already registered.
var ErrDuplicateAddress = errors.New("rendezvous: address already registered")

// Registry is the set of live Sessions keyed by remote address, kept in
// insertion order.  It is not safe for concurrent use; every access happens
// on the Rendezvous event loop.
type Registry struct {
	sessions *list.List
	byAddr   map[string]*list.Element
	counts   map[State]int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{
		sessions: list.New(),
		byAddr:   make(map[string]*list.Element),
		counts:   make(map[State]int, len(States)),
	}
	for _, st := range States {
		r.counts[st] = 0
	}
	return r
}

// Add registers s.
func (r *Registry) Add(s *Session) error {
	if _, ok := r.byAddr[s.addr]; ok {
		return ErrDuplicateAddress
	}
	r.byAddr[s.addr] = r.sessions.PushBack(s)
	r.counts[s.state]++
	return nil
}

// Remove unregisters s.  Removing an unknown Session, or a different
// Session that happens to share the address, is a no-op.
func (r *Registry) Remove(s *Session) {
	if !r.has(s) {
		return
	}
	r.sessions.Remove(r.byAddr[s.addr])
	delete(r.byAddr, s.addr)
	r.counts[s.state]--
}

func (r *Registry) has(s *Session) bool {
	e, ok := r.byAddr[s.addr]
	return ok && e.Value.(*Session) == s
}

// setState moves s to st, keeping the per-State counts current.
func (r *Registry) setState(s *Session, st State) {
	if r.has(s) {
		r.counts[s.state]--
		r.counts[st]++
	}
	s.state = st
}

// Get returns the Session registered under addr, or nil.
func (r *Registry) Get(addr string) *Session {
	if e, ok := r.byAddr[addr]; ok {
		return e.Value.(*Session)
	}
	return nil
}

// All returns every registered Session in insertion order.
func (r *Registry) All() []*Session {
	all := make([]*Session, 0, r.sessions.Len())
	for e := r.sessions.Front(); e != nil; e = e.Next() {
		all = append(all, e.Value.(*Session))
	}
	return all
}

// Len returns the number of registered Sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// CountByState returns the number of registered Sessions in each State.
func (r *Registry) CountByState() map[State]int {
	counts := make(map[State]int, len(r.counts))
	for st, n := range r.counts {
		counts[st] = n
	}
	return counts
}
