// rendezvous_test.go - Rendezvous event loop tests.
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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/rendezvous/core/log"
	"github.com/katzenpost/rendezvous/server/internal/protocol"
)

func newTestRendezvous(t *testing.T) *Rendezvous {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	return New(logBackend, 16)
}

func TestEventLoop(t *testing.T) {
	require := require.New(t)

	r := newTestRendezvous(t)
	defer r.Halt()

	aOut, bOut := new(recordingSender), new(recordingSender)
	a := r.NewSession("a:1", aOut)
	b := r.NewSession("b:1", bOut)
	require.NoError(r.OnAccept(a))
	require.NoError(r.OnAccept(b))
	require.ErrorIs(r.OnAccept(r.NewSession("a:1", aOut)), ErrDuplicateAddress)

	for _, env := range []protocol.Envelope{joinMsg("a"), msg(protocol.TypeSearch)} {
		require.NoError(r.OnMessage(a, env))
	}
	for _, env := range []protocol.Envelope{joinMsg("b"), msg(protocol.TypeSearch)} {
		require.NoError(r.OnMessage(b, env))
	}

	// Status is itself serialized behind the queued messages.
	counts, err := r.Status()
	require.NoError(err)
	require.Equal(2, counts[StatePartnerConnected])

	r.OnClose(a)
	counts, err = r.Status()
	require.NoError(err)
	require.Equal(0, counts[StatePartnerConnected])
	require.Equal(1, counts[StatePartnerDisconnected])

	require.Len(aOut.lines, 1)
	require.Len(bOut.lines, 2)
}

func TestEventLoopManyClients(t *testing.T) {
	require := require.New(t)

	r := newTestRendezvous(t)
	defer r.Halt()

	const n = 64
	outs := make([]*recordingSender, n)
	errCh := make(chan error, 3*n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		outs[i] = new(recordingSender)
		s := r.NewSession(fmt.Sprintf("client:%d", i), outs[i])
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- r.OnAccept(s)
			errCh <- r.OnMessage(s, joinMsg(s.Address()))
			errCh <- r.OnMessage(s, msg(protocol.TypeSearch))
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(err)
	}

	counts, err := r.Status()
	require.NoError(err)
	require.Equal(n, counts[StatePartnerConnected])

	// Every client got exactly one PARTNER_FOUND, and the pairing is
	// symmetric.
	partnerOf := make(map[string]string)
	for i, out := range outs {
		envs := out.envelopes(t)
		require.Len(envs, 1)
		partnerOf[fmt.Sprintf("client:%d", i)] = identityOf(t, envs[0][protocol.FieldCryptoParams])
	}
	for self, partner := range partnerOf {
		require.NotEqual(self, partner)
		require.Equal(self, partnerOf[partner])
	}
}

func TestEventLoopHalted(t *testing.T) {
	require := require.New(t)

	r := newTestRendezvous(t)
	r.Halt()

	s := r.NewSession("a:1", new(recordingSender))
	require.ErrorIs(r.OnAccept(s), ErrHalted)
	_, err := r.Status()
	require.ErrorIs(err, ErrHalted)
	r.OnClose(s)
}
